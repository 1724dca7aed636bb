package handler

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/brokerops/be-commissions/internal/platform/errors"
	"github.com/brokerops/be-commissions/internal/service"
)

// CommissionServiceName is the fully qualified gRPC service name.
const CommissionServiceName = "brokerops.commissions.v1.CommissionService"

// CommissionServiceServer is the gRPC surface. Payloads are structpb.Struct
// messages carrying the same JSON shapes as the HTTP API.
type CommissionServiceServer interface {
	CreateCommission(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCommission(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveCommission(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PayCommission(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FetchPendingDebts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitDeductions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordDebtPayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(CommissionServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// RegisterCommissionService registers srv on s.
func RegisterCommissionService(s grpc.ServiceRegistrar, srv CommissionServiceServer) {
	methods := map[string]unaryMethod{
		"CreateCommission":  CommissionServiceServer.CreateCommission,
		"GetCommission":     CommissionServiceServer.GetCommission,
		"ApproveCommission": CommissionServiceServer.ApproveCommission,
		"PayCommission":     CommissionServiceServer.PayCommission,
		"FetchPendingDebts": CommissionServiceServer.FetchPendingDebts,
		"SubmitDeductions":  CommissionServiceServer.SubmitDeductions,
		"RecordDebtPayment": CommissionServiceServer.RecordDebtPayment,
	}
	desc := &grpc.ServiceDesc{
		ServiceName: CommissionServiceName,
		HandlerType: (*CommissionServiceServer)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "brokerops/commissions/v1/commission_service.proto",
	}
	for _, name := range []string{
		"CreateCommission", "GetCommission", "ApproveCommission", "PayCommission",
		"FetchPendingDebts", "SubmitDeductions", "RecordDebtPayment",
	} {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    unaryHandler(name, methods[name]),
		})
	}
	s.RegisterService(desc, srv)
}

func unaryHandler(name string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + CommissionServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		impl := srv.(CommissionServiceServer)
		if interceptor == nil {
			return call(impl, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(impl, ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

// GRPCHandler implements CommissionServiceServer
type GRPCHandler struct {
	commissions CommissionAPI
	debts       DebtAPI
	validate    *validator.Validate
	logger      zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(commissions CommissionAPI, debts DebtAPI, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		commissions: commissions,
		debts:       debts,
		validate:    newValidator(),
		logger:      logger.With().Str("handler", "grpc").Logger(),
	}
}

// actorFromMetadata returns the operator id from x-user-id metadata.
func actorFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get("x-user-id"); len(v) > 0 {
		return v[0]
	}
	return ""
}

type idRequest struct {
	ID string `json:"id" validate:"required"`
}

type pendingDebtsRequest struct {
	EmployeeIDs []string `json:"employee_ids" validate:"required,min=1,dive,required"`
}

// CreateCommission creates a new commission
func (h *GRPCHandler) CreateCommission(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in createCommissionRequest
	if err := h.decode(req, &in); err != nil {
		return nil, mapErrorToGRPC(err)
	}

	h.logger.Info().
		Str("client_name", in.ClientName).
		Int("participants", len(in.EmployeeIDs)).
		Msg("gRPC CreateCommission called")

	commission, err := h.commissions.CreateCommission(ctx, &service.CreateCommissionRequest{
		ClientName:       in.ClientName,
		TransactionLabel: in.TransactionLabel,
		TotalAmount:      *in.TotalAmount,
		EmployeeIDs:      in.EmployeeIDs,
		Percentages:      toPercentages(in.Percentages),
		CreatedBy:        actorFromMetadata(ctx),
		IdempotencyKey:   strings.TrimSpace(req.GetFields()["idempotency_key"].GetStringValue()),
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(toCommissionResponse(commission))
}

// GetCommission retrieves a commission with its shares
func (h *GRPCHandler) GetCommission(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in idRequest
	if err := h.decode(req, &in); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	commission, err := h.commissions.GetCommission(ctx, in.ID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(toCommissionResponse(commission))
}

// ApproveCommission moves a pending commission to approved
func (h *GRPCHandler) ApproveCommission(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in idRequest
	if err := h.decode(req, &in); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	commission, err := h.commissions.ApproveCommission(ctx, in.ID, actorFromMetadata(ctx))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(toCommissionResponse(commission))
}

// PayCommission moves an approved commission to paid
func (h *GRPCHandler) PayCommission(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in idRequest
	if err := h.decode(req, &in); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	commission, err := h.commissions.PayCommission(ctx, in.ID, actorFromMetadata(ctx))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(toCommissionResponse(commission))
}

// FetchPendingDebts returns pending auto-deduct debts grouped by debtor
func (h *GRPCHandler) FetchPendingDebts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in pendingDebtsRequest
	if err := h.decode(req, &in); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	groups, err := h.debts.FetchPendingAutoDeduct(ctx, in.EmployeeIDs)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(map[string]interface{}{"debtors": toDebtorDebts(groups)})
}

// SubmitDeductions applies a batch of deduct/defer decisions
func (h *GRPCHandler) SubmitDeductions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	commissionID, err := requiredString(req, "commission_id")
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	var in submitDeductionsRequest
	if err := h.decode(req, &in); err != nil {
		return nil, mapErrorToGRPC(err)
	}

	h.logger.Info().
		Str("commission_id", commissionID).
		Int("decisions", len(in.Decisions)).
		Msg("gRPC SubmitDeductions called")

	decisions := make([]service.DecisionRequest, len(in.Decisions))
	for i, d := range in.Decisions {
		decisions[i] = service.DecisionRequest{
			EmployeeID: d.EmployeeID,
			DebtID:     d.DebtID,
			Action:     d.Action,
			Amount:     d.Amount,
			Reason:     d.Reason,
		}
	}
	result, err := h.debts.SubmitDeductions(ctx, &service.SubmitDeductionsRequest{
		CommissionID: commissionID,
		Decisions:    decisions,
		DecidedBy:    actorFromMetadata(ctx),
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(batchResponse{
		Commission: toCommissionResponse(result.Commission),
		Deductions: toDeductions(result.Deductions),
		Debts:      toDebtResponses(result.Debts),
	})
}

// RecordDebtPayment applies a full or partial payment to a debt
func (h *GRPCHandler) RecordDebtPayment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	debtID, err := requiredString(req, "debt_id")
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	var in paymentRequest
	if err := h.decode(req, &in); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	debt, err := h.debts.RecordPayment(ctx, debtID, *in.Amount, actorFromMetadata(ctx))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(toDebtResponse(debt))
}

// decode maps a Struct onto a request type through its JSON form and
// validates it.
func (h *GRPCHandler) decode(req *structpb.Struct, dst interface{}) error {
	raw, err := json.Marshal(req.AsMap())
	if err != nil {
		return errors.InvalidInput("body", "invalid request payload")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.InvalidInput("body", "invalid request payload")
	}
	if err := h.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func requiredString(req *structpb.Struct, key string) (string, error) {
	v := strings.TrimSpace(req.GetFields()[key].GetStringValue())
	if v == "" {
		return "", errors.InvalidInput(key, "value is required")
	}
	return v, nil
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	resp, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

// mapErrorToGRPC maps application errors to gRPC status errors
func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, err.Error())
	case errors.ErrCodeConflict:
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.ErrCodeUnavailable:
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
