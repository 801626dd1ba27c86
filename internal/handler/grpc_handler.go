package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-customs-aforo/internal/repository"
	"github.com/pesio-ai/be-customs-aforo/internal/service"
	"github.com/pesio-ai/be-customs-aforo/pkg/errors"
)

// CaseWorkflowServiceName is the fully-qualified gRPC service name.
const CaseWorkflowServiceName = "aforo.v1.CaseWorkflowService"

// CaseWorkflowServer is the collaborator API over gRPC. Payloads are
// google.protobuf.Struct documents with the same shape as the HTTP bodies.
type CaseWorkflowServer interface {
	ApplyMutation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplyBulkMutation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBadges(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAuditTrail(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// CaseWorkflowServiceDesc describes CaseWorkflowServer for grpc.Server.RegisterService.
var CaseWorkflowServiceDesc = grpc.ServiceDesc{
	ServiceName: CaseWorkflowServiceName,
	HandlerType: (*CaseWorkflowServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ApplyMutation", Handler: unaryHandler("ApplyMutation", CaseWorkflowServer.ApplyMutation)},
		{MethodName: "ApplyBulkMutation", Handler: unaryHandler("ApplyBulkMutation", CaseWorkflowServer.ApplyBulkMutation)},
		{MethodName: "GetBadges", Handler: unaryHandler("GetBadges", CaseWorkflowServer.GetBadges)},
		{MethodName: "GetAuditTrail", Handler: unaryHandler("GetAuditTrail", CaseWorkflowServer.GetAuditTrail)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "aforo/v1/case_workflow.proto",
}

type structCall func(CaseWorkflowServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call structCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CaseWorkflowServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + CaseWorkflowServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CaseWorkflowServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// GRPCHandler implements CaseWorkflowServer
type GRPCHandler struct {
	svc    Services
	logger zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(svc Services, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		svc:    svc,
		logger: logger.With().Str("handler", "grpc").Logger(),
	}
}

// Register attaches the handler to s.
func (h *GRPCHandler) Register(s *grpc.Server) {
	s.RegisterService(&CaseWorkflowServiceDesc, h)
}

// identity reads the caller from incoming metadata.
func identity(ctx context.Context) (userID string, roles []string) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", nil
	}
	if v := md.Get(strings.ToLower(HeaderUserID)); len(v) > 0 {
		userID = strings.TrimSpace(v[0])
	}
	for _, v := range md.Get(strings.ToLower(HeaderUserRoles)) {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				roles = append(roles, p)
			}
		}
	}
	return userID, roles
}

// ApplyMutation applies one field change to one case
func (h *GRPCHandler) ApplyMutation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req service.MutationRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	req.Actor, _ = identity(ctx)

	h.logger.Debug().
		Str("ne", req.NE).
		Str("field", req.Field.String()).
		Str("actor", req.Actor).
		Msg("gRPC ApplyMutation called")

	res, err := h.svc.Mutator.ApplyMutation(ctx, req)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(res)
}

// ApplyBulkMutation applies one field change to many cases
func (h *GRPCHandler) ApplyBulkMutation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req service.BulkRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	req.Actor, _ = identity(ctx)

	h.logger.Debug().
		Int("count", len(req.NEs)).
		Str("field", req.Field.String()).
		Str("actor", req.Actor).
		Msg("gRPC ApplyBulkMutation called")

	res, err := h.svc.Bulk.ApplyBulkMutation(ctx, req)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(res)
}

type neRequest struct {
	NE string `json:"ne" validate:"required"`
}

// GetBadges returns the badge set of a case
func (h *GRPCHandler) GetBadges(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req neRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	badges, err := h.svc.Badges.GetBadges(ctx, req.NE)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(badges)
}

// GetAuditTrail returns the audit trail of a case
func (h *GRPCHandler) GetAuditTrail(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req neRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	entries, err := h.svc.Cases.GetAuditTrail(ctx, req.NE)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(map[string]any{
		"ne":      repository.NormalizeNE(req.NE),
		"entries": entries,
	})
}

// ── conversion helpers ────────────────────────────────────────────────────────

func fromStruct(in *structpb.Struct, dst any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return errors.InvalidInput("request", err.Error())
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return errors.InvalidInput("request", err.Error())
	}
	return validateRequest(dst)
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	errMsg := err.Error()

	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, errMsg)
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, errMsg)
	case errors.ErrCodeValidationRejected:
		return status.Error(codes.FailedPrecondition, errMsg)
	case errors.ErrCodeConflict:
		return status.Error(codes.Aborted, errMsg)
	case errors.ErrCodePermissionDenied, errors.ErrCodeUnauthorized:
		return status.Error(codes.PermissionDenied, errMsg)
	case errors.ErrCodeUnavailable:
		return status.Error(codes.Unavailable, errMsg)
	default:
		return status.Error(codes.Internal, errMsg)
	}
}
