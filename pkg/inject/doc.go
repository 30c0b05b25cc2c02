// Package inject wires a project's stateful services into the
// environment of the service being deployed.
//
// For every live redis/postgres/mysql/mongodb sibling with a
// successful deployment in the target environment, Inject emits one
// connection variable (for example REDIS_CACHE_URL or DATABASE_URL)
// pointing at the sibling's first node, preferring the private network
// address and collapsing to localhost when the sibling shares the
// target node. Siblings without a success become warnings on the
// deploy log rather than failures, so an app can ship before its
// database does.
//
// Variable names and URLs come from pkg/naming, which keeps them
// stable across redeploys of the same stateful service.
package inject
