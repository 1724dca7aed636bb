package handler

import (
	"context"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func startCommissionServer(t *testing.T, c *stubCommissions, d *stubDebts) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoveryInterceptor(zerolog.Nop()),
		LoggingInterceptor(zerolog.Nop()),
	))
	RegisterCommissionService(srv, NewGRPCHandler(c, d, zerolog.Nop()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	err = conn.Invoke(ctx, "/"+CommissionServiceName+"/"+method, in, out)
	return out, err
}

func TestGRPC_CreateCommission(t *testing.T) {
	c := &stubCommissions{}
	conn := startCommissionServer(t, c, &stubDebts{})
	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-user-id", "ops-9")

	out, err := invoke(ctx, conn, "CreateCommission", map[string]any{
		"client_name":     "Harbor View Estates",
		"total_amount":    "100000",
		"employee_ids":    []any{"emp-a", "emp-b"},
		"idempotency_key": "k-1",
		"percentages": []any{
			map[string]any{"employee_id": "emp-a", "percentage": 70},
			map[string]any{"employee_id": "emp-b", "percentage": "20"},
		},
	})
	if err != nil {
		t.Fatalf("CreateCommission error = %v", err)
	}
	if got := out.GetFields()["office_final_share"].GetStringValue(); got != "55000" {
		t.Errorf("office_final_share = %q, want 55000", got)
	}
	if c.created.CreatedBy != "ops-9" || c.created.IdempotencyKey != "k-1" {
		t.Errorf("forwarded request = %+v", c.created)
	}
}

func TestGRPC_ErrorCodes(t *testing.T) {
	conn := startCommissionServer(t, &stubCommissions{}, &stubDebts{})
	ctx := context.Background()

	tests := []struct {
		method string
		req    map[string]any
		want   codes.Code
	}{
		{"CreateCommission", map[string]any{"total_amount": "10"}, codes.InvalidArgument},
		{"GetCommission", map[string]any{"id": "missing"}, codes.NotFound},
		{"PayCommission", map[string]any{"id": commissionID}, codes.FailedPrecondition},
		{"SubmitDeductions", map[string]any{"decisions": []any{}}, codes.InvalidArgument},
		{"RecordDebtPayment", map[string]any{"debt_id": "d-1"}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			_, err := invoke(ctx, conn, tt.method, tt.req)
			if got := status.Code(err); got != tt.want {
				t.Errorf("%s code = %s, want %s (%v)", tt.method, got, tt.want, err)
			}
		})
	}
}

func TestGRPC_DebtMethods(t *testing.T) {
	d := &stubDebts{}
	conn := startCommissionServer(t, &stubCommissions{}, d)
	ctx := context.Background()

	out, err := invoke(ctx, conn, "FetchPendingDebts", map[string]any{"employee_ids": []any{"emp-a"}})
	if err != nil {
		t.Fatalf("FetchPendingDebts error = %v", err)
	}
	if n := len(out.GetFields()["debtors"].GetListValue().GetValues()); n != 1 {
		t.Errorf("debtors = %d, want 1", n)
	}

	_, err = invoke(ctx, conn, "SubmitDeductions", map[string]any{
		"commission_id": commissionID,
		"decisions": []any{
			map[string]any{"employee_id": "emp-a", "debt_id": "d-1", "action": "deduct"},
		},
	})
	if err != nil {
		t.Fatalf("SubmitDeductions error = %v", err)
	}
	if d.submitted.CommissionID != commissionID || d.submitted.Decisions[0].Amount != nil {
		t.Errorf("submitted = %+v", d.submitted)
	}

	out, err = invoke(ctx, conn, "RecordDebtPayment", map[string]any{"debt_id": "d-1", "amount": "12.50"})
	if err != nil {
		t.Fatalf("RecordDebtPayment error = %v", err)
	}
	if out.GetFields()["status_label"].GetStringValue() != "partially_paid" || d.paid.String() != "12.5" {
		t.Errorf("payment response = %v, paid %s", out.AsMap(), d.paid)
	}
}

func TestRecoveryInterceptor(t *testing.T) {
	intercept := RecoveryInterceptor(zerolog.Nop())
	_, err := intercept(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"},
		func(context.Context, any) (any, error) { panic("boom") })
	if status.Code(err) != codes.Internal {
		t.Errorf("code = %s, want Internal", status.Code(err))
	}
}
