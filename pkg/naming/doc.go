/*
Package naming maps deployment tuples to the identifiers the rest of
the control plane uses: container names, image names, public domains,
VPC names, container ports, and hashed host ports.

Everything here is a pure function of its inputs. Two properties the
orchestrator depends on:

  - Stateless services hash the version into their host port, so blue
    and green containers of the same service never collide on a node.
  - Stateful services hash without the version, so the port (and the
    injected connection URLs built on it) survives redeploys.

Slugging lower-cases, replaces anything outside [a-z0-9] with the
separator, collapses runs, and trims the ends; it is idempotent.
*/
package naming
