package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"PoolLedger/internal/observability"
	"PoolLedger/internal/query"
	"PoolLedger/internal/state"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// route is one read endpoint. name labels its metrics.
type route struct {
	name    string
	pattern string
	handle  func(ctx context.Context, r *http.Request, params map[string]string) (any, error)
}

// NewGateway builds the HTTP/JSON query mux. Errors are rendered by the
// gateway's status handler, so a MissingEntity becomes a 404 with a JSON body.
func NewGateway(qs *query.QueryService, metrics *observability.Metrics, logger zerolog.Logger) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()
	marshaler := &runtime.JSONPb{}

	routes := []route{
		{"get_pool", "/v1/pools/{pool_id}", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			return qs.GetPool(ctx, p["pool_id"])
		}},
		{"list_tranches", "/v1/pools/{pool_id}/tranches", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			return qs.GetTranches(ctx, p["pool_id"])
		}},
		{"get_epoch", "/v1/pools/{pool_id}/epochs/{index}", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			index, err := strconv.ParseUint(p["index"], 10, 64)
			if err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "invalid epoch index %q", p["index"])
			}
			return qs.GetEpoch(ctx, p["pool_id"], index)
		}},
		{"list_assets", "/v1/pools/{pool_id}/assets", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
			return qs.GetAssets(ctx, p["pool_id"], r.URL.Query().Get("open") == "true")
		}},
		{"list_snapshots", "/v1/pools/{pool_id}/snapshots", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
			limit := 0
			if v := r.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, status.Errorf(codes.InvalidArgument, "invalid limit %q", v)
				}
				limit = n
			}
			return qs.GetSnapshots(ctx, p["pool_id"], limit)
		}},
		{"get_position", "/v1/positions/{owner}/{instrument}", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			return qs.GetPosition(ctx, p["owner"], p["instrument"])
		}},
	}

	for _, rt := range routes {
		rt := rt
		err := mux.HandlePath(http.MethodGet, rt.pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			start := time.Now()
			resp, err := rt.handle(r.Context(), r, params)
			code := codes.OK
			if err != nil {
				err = toStatus(err)
				code = status.Code(err)
				if code == codes.Internal {
					logger.Error().Err(err).Str("endpoint", rt.name).Msg("query failed")
				}
				runtime.HTTPError(r.Context(), mux, marshaler, w, r, err)
			} else {
				writeJSON(w, resp)
			}
			if metrics != nil {
				metrics.QueryRequests.WithLabelValues(rt.name, code.String()).Inc()
				metrics.QueryDuration.WithLabelValues(rt.name).Observe(time.Since(start).Seconds())
			}
		})
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", rt.pattern, err)
		}
	}
	return mux, nil
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, state.ErrMissingEntity):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
