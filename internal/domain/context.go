// Package domain defines the outbox event model, the storage/writer/
// transport/token-cache ports, and the shared error taxonomy. It holds no
// dependency on any concrete adapter.
package domain

import "context"

// Context is a type alias to stdlib context.Context so adapters and
// services share one import across layers without coupling the domain
// package to anything beyond the standard library.
type Context = context.Context
