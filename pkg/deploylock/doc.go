/*
Package deploylock serializes deploys per (service, env).

The registry is an in-memory map guarded by one mutex. Acquire hands
out a fencing lock id with a TTL; Release only succeeds with the
matching id, so a deploy that outlives its lock cannot free a
successor's. Stale entries expire passively.

The lock is advisory: the control plane is assumed to be the single
writer for deployment state. Backing the same Acquire/Release contract
with a distributed lock service would allow horizontal scaling without
touching callers.
*/
package deploylock
