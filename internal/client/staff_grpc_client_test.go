package client

import (
	"context"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type staffDirectory interface {
	GetEmployee(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type fakeStaff struct {
	employees map[string]map[string]any
}

func (f *fakeStaff) GetEmployee(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	emp, ok := f.employees[req.GetFields()["id"].GetStringValue()]
	if !ok {
		return nil, status.Error(codes.NotFound, "employee not found")
	}
	return structpb.NewStruct(emp)
}

func startStaffServer(t *testing.T, svc staffDirectory) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "brokerops.staff.v1.StaffDirectory",
		HandlerType: (*staffDirectory)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "GetEmployee",
			Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				req := &structpb.Struct{}
				if err := dec(req); err != nil {
					return nil, err
				}
				return svc.GetEmployee(ctx, req)
			},
		}},
	}, svc)
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

func TestStaffGRPCClient_ValidateEmployee(t *testing.T) {
	conn := startStaffServer(t, &fakeStaff{employees: map[string]map[string]any{
		"emp-1": {"id": "emp-1", "name": "Dana Broker", "active": true},
		"emp-2": {"id": "emp-2", "name": "Former Agent", "active": false},
	}})
	c := NewStaffGRPCClientFromConn(conn)
	ctx := context.Background()

	tests := []struct {
		id         string
		wantActive bool
		wantName   string
	}{
		{"emp-1", true, "Dana Broker"},
		{"emp-2", false, "Former Agent"},
		{"ghost", false, ""},
	}
	for _, tt := range tests {
		active, name, err := c.ValidateEmployee(ctx, tt.id)
		if err != nil {
			t.Fatalf("ValidateEmployee(%s) error = %v", tt.id, err)
		}
		if active != tt.wantActive || name != tt.wantName {
			t.Errorf("ValidateEmployee(%s) = %v, %q; want %v, %q", tt.id, active, name, tt.wantActive, tt.wantName)
		}
	}
}

func TestNotificationPublisher_NilConnectionIsNoop(t *testing.T) {
	p := NewNotificationPublisher(nil, "brokerage", zerolog.Nop())
	p.PublishCommissionEvent(context.Background(), "created", "c-1", "u-1", nil)
	p.PublishDebtEvent(context.Background(), "paid", "d-1", "u-1", map[string]interface{}{"amount": "10.00"})
	p.Close()

	var nilPub *NotificationPublisher
	nilPub.PublishCommissionEvent(context.Background(), "created", "c-1", "", nil)
}
