package rpctransport

import (
	"context"

	"github.com/ethereum/go-ethereum/rpc"
)

// gethCaller adapts *rpc.Client's CallContext(ctx, &result, method, args...) shape to the
// transport's Caller interface; each endpoint gets its own adapter instance.
type gethCaller struct {
	client *rpc.Client
}

// DialCaller dials rawurl and returns a Caller backed by the real go-ethereum RPC client,
// for wiring a live Endpoint into a Transport outside of tests.
func DialCaller(ctx context.Context, rawurl string) (Caller, error) {
	dialCtx, cancel := context.WithTimeout(ctx, defaultHTTPTimeout)
	defer cancel()
	client, err := rpc.DialContext(dialCtx, rawurl)
	if err != nil {
		return nil, err
	}
	return &gethCaller{client: client}, nil
}

func (g *gethCaller) CallContext(ctx context.Context, method string, params ...interface{}) (interface{}, error) {
	var result interface{}
	if err := g.client.CallContext(ctx, &result, method, params...); err != nil {
		return nil, err
	}
	return result, nil
}

// BatchCallContext packs items into a single JSON-RPC 2.0 batch request on the wire, via
// *rpc.Client's native batch support, satisfying the transport's BatchCaller interface.
func (g *gethCaller) BatchCallContext(ctx context.Context, items []BatchItem) ([]BatchResult, error) {
	elems := make([]rpc.BatchElem, len(items))
	results := make([]interface{}, len(items))
	for i, item := range items {
		elems[i] = rpc.BatchElem{
			Method: item.Method,
			Args:   item.Params,
			Result: &results[i],
		}
	}
	if err := g.client.BatchCallContext(ctx, elems); err != nil {
		return nil, err
	}
	out := make([]BatchResult, len(items))
	for i, elem := range elems {
		out[i] = BatchResult{Value: results[i], Err: elem.Error}
	}
	return out, nil
}
