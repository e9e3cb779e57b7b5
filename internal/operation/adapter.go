package operation

import (
	"context"
	"fmt"
)

// Lift turns a plain synchronous function into a Func.
// The context is only checked before fn starts; fn itself is not interruptible.
func Lift(fn func(args Args) (Vector, error)) Func {
	return func(ctx context.Context, args Args) (Vector, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fn(args)
	}
}

// Ensure converts v into a Func. Values already following the calling
// convention are returned as-is, plain functions are lifted.
func Ensure(v interface{}) (Func, error) {
	switch fn := v.(type) {
	case Func:
		return fn, nil
	case func(context.Context, Args) (Vector, error):
		return Func(fn), nil
	case func(Args) (Vector, error):
		return Lift(fn), nil
	case nil:
		return nil, fmt.Errorf("operation is nil")
	default:
		return nil, fmt.Errorf("unsupported operation type %T", v)
	}
}

// Chain applies middlewares to f. The first middleware is the outermost one.
func Chain(f Func, mws ...Middleware) Func {
	for i := len(mws) - 1; i >= 0; i-- {
		f = mws[i](f)
	}
	return f
}
