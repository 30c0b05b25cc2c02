package naming

import (
	"crypto/md5"
	"fmt"
	"math/big"
	"strings"

	"github.com/cuemby/flotilla/pkg/types"
)

// Host ports are hashed into [PortBase, PortBase+PortRange).
const (
	PortBase  = 10000
	PortRange = 50000
)

// User6 returns the first 6 characters of a workspace id, or the whole
// id if shorter. It keeps generated names readable while staying unique
// enough within a workspace's own fleet.
func User6(workspaceID string) string {
	if len(workspaceID) > 6 {
		return workspaceID[:6]
	}
	return workspaceID
}

// Slug lower-cases s, replaces every character outside [a-z0-9] with
// '-', collapses runs, and trims separators from both ends.
// Slug("") and Slug("-") are "".
func Slug(s string) string {
	return slugify(s, '-')
}

// UnderscoreSlug is Slug with '_' as the separator.
func UnderscoreSlug(s string) string {
	return slugify(s, '_')
}

func slugify(s string, sep byte) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		alnum := (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
		if !alnum {
			// Separator runs collapse; leading runs are dropped.
			if b.Len() > 0 {
				pending = true
			}
			continue
		}
		if pending {
			b.WriteByte(sep)
			pending = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Domain returns the public hostname for a webservice deployment:
// {user6}-{project}-{service}-{env}.{rootDomain}, slugged.
func Domain(workspaceID, project, service, env, rootDomain string) string {
	host := Slug(fmt.Sprintf("%s-%s-%s-%s", User6(workspaceID), project, service, env))
	return host + "." + rootDomain
}

// ContainerName returns the Docker container name for one version of a
// service in an env. Deterministic: redeploys of the same version land
// on the same name.
func ContainerName(workspaceID, project, service, env string, version int) string {
	return UnderscoreSlug(fmt.Sprintf("%s_%s_%s_%s_v%d", User6(workspaceID), project, service, env, version))
}

// ImageName returns the image tag uploaded to and run on the nodes.
func ImageName(workspaceID, project, service, env string, version int) string {
	return Slug(fmt.Sprintf("%s-%s-%s-%s-v%d", User6(workspaceID), project, service, env, version))
}

// ImagePrefix returns the version-less image name, used to prune old
// versions while keeping the newest N.
func ImagePrefix(workspaceID, project, service, env string) string {
	return Slug(fmt.Sprintf("%s-%s-%s-%s", User6(workspaceID), project, service, env))
}

// ContainerPort returns the port the service listens on inside its
// container.
func ContainerPort(t types.ServiceType) int {
	switch t {
	case types.ServiceTypeRedis:
		return 6379
	case types.ServiceTypePostgres:
		return 5432
	case types.ServiceTypeMySQL:
		return 3306
	case types.ServiceTypeMongoDB:
		return 27017
	default:
		return 8000
	}
}

// HostPort returns the node port a deployment binds, hashed from the
// identifying tuple. Stateful services hash without the version so the
// port survives redeploys (sibling URLs keep working); stateless
// services include the version so blue and green never collide.
func HostPort(workspaceID, project, service, env string, version int, t types.ServiceType) int {
	key := fmt.Sprintf("%s:%s:%s:%s", workspaceID, project, service, env)
	if t.Stateless() {
		key = fmt.Sprintf("%s:v%d", key, version)
	}
	sum := md5.Sum([]byte(key))
	n := new(big.Int).SetBytes(sum[:])
	return PortBase + int(new(big.Int).Mod(n, big.NewInt(PortRange)).Int64())
}

// VPCName returns the provider VPC name for a workspace's nodes in a
// region.
func VPCName(workspaceID, region string) string {
	return fmt.Sprintf("%s_%s", User6(workspaceID), region)
}

// EnvVarName returns the environment variable under which a stateful
// sibling's connection URL is injected. A service named after its type
// gets the bare form (REDIS_URL); otherwise the name, stripped of a
// leading "{type}-"/"{type}_" prefix, becomes the suffix
// (REDIS_CACHE_URL for "redis-cache").
func EnvVarName(t types.ServiceType, serviceName string) string {
	var base string
	switch t {
	case types.ServiceTypeRedis:
		base = "REDIS"
	case types.ServiceTypePostgres, types.ServiceTypeMySQL:
		base = "DATABASE"
	case types.ServiceTypeMongoDB:
		base = "MONGODB"
	default:
		return ""
	}
	if serviceName == string(t) {
		return base + "_URL"
	}
	suffix := strings.TrimPrefix(serviceName, string(t)+"-")
	suffix = strings.TrimPrefix(suffix, string(t)+"_")
	suffix = strings.ToUpper(UnderscoreSlug(suffix))
	if suffix == "" {
		return base + "_URL"
	}
	return base + "_" + suffix + "_URL"
}

// BuildURL returns the connection URL injected for a stateful sibling.
// Credentials match what the node agent provisions the container with.
func BuildURL(t types.ServiceType, host string, port int, serviceName string) string {
	switch t {
	case types.ServiceTypeRedis:
		return fmt.Sprintf("redis://%s:%d/0", host, port)
	case types.ServiceTypePostgres:
		return fmt.Sprintf("postgresql://postgres:postgres@%s:%d/%s", host, port, serviceName)
	case types.ServiceTypeMySQL:
		return fmt.Sprintf("mysql://root:root@%s:%d/%s", host, port, serviceName)
	case types.ServiceTypeMongoDB:
		return fmt.Sprintf("mongodb://%s:%d/%s", host, port, serviceName)
	default:
		return ""
	}
}
