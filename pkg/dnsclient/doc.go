/*
Package dnsclient manages proxied A records at the edge CDN.

Webservice deploys point their domain at the public IPs of every
target node; the CDN proxies and terminates TLS in front of them. The
client exposes two high-level operations over the provider's record
API:

	SetupMultiServer(domain, ips)  replace the A record set, proxied
	RemoveDomain(domain)           delete every A record for the domain

The provider has no atomic replace, so SetupMultiServer enumerates
current records, deletes them, and creates the new set. Callers
tolerate the brief partial interval; repeating the call with the same
IPs converges to the same record set.

# Zone Resolution

All domains live under one configured root domain. Its zone id is
resolved once and kept in an in-process cache (12h TTL), so steady
deploy traffic costs one zone lookup per half day.

# Failure Handling

Transport failures, 5xx, and 429 are retried with bounded exponential
backoff. Provider-level errors (success=false envelopes) are semantic
and surface immediately. Outcomes feed flotilla_dns_updates_total.

# Usage

	dns := dnsclient.NewClient(cfg.DNSAPIToken, cfg.RootDomain)

	err := dns.SetupMultiServer(ctx, "w1-shop-api-prod.example.com",
		[]string{"203.0.113.10", "203.0.113.11"})

# See Also

  - pkg/deploy, the only producer of record changes
*/
package dnsclient
