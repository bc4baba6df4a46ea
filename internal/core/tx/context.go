package tx

import "context"

// txKey is the context key for the request's Transaction.
type txKey struct{}

// WithTransaction stores t in ctx.
func WithTransaction(ctx context.Context, t *Transaction) context.Context {
	return context.WithValue(ctx, txKey{}, t)
}

// FromContext returns the Transaction stored in ctx, or nil if none.
func FromContext(ctx context.Context) *Transaction {
	if t, ok := ctx.Value(txKey{}).(*Transaction); ok {
		return t
	}
	return nil
}

// MustFromContext returns the Transaction stored in ctx.
// It is meant for repositories, which always run inside a request scope.
func MustFromContext(ctx context.Context) *Transaction {
	t := FromContext(ctx)
	if t == nil {
		panic("tx: no Transaction in context")
	}
	return t
}
