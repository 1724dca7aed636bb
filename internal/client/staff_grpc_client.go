package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const getEmployeeMethod = "/brokerops.staff.v1.StaffDirectory/GetEmployee"

// Employee is a staff directory record.
type Employee struct {
	ID     string
	Name   string
	Active bool
}

// StaffGRPCClient is a gRPC client for the staff directory service.
// Payloads are structpb.Struct messages.
type StaffGRPCClient struct {
	conn *grpc.ClientConn
}

// NewStaffGRPCClient creates a new staff directory gRPC client
func NewStaffGRPCClient(addr string) (*StaffGRPCClient, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(forwardMetadata),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}
	return &StaffGRPCClient{conn: conn}, nil
}

// NewStaffGRPCClientFromConn wraps an existing connection.
func NewStaffGRPCClientFromConn(conn *grpc.ClientConn) *StaffGRPCClient {
	return &StaffGRPCClient{conn: conn}
}

// Close closes the gRPC connection
func (c *StaffGRPCClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// GetEmployee retrieves an employee by ID. A missing employee is reported
// as (nil, nil).
func (c *StaffGRPCClient) GetEmployee(ctx context.Context, employeeID string) (*Employee, error) {
	req, err := structpb.NewStruct(map[string]any{"id": employeeID})
	if err != nil {
		return nil, fmt.Errorf("failed to build staff request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, getEmployeeMethod, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}

	fields := resp.GetFields()
	return &Employee{
		ID:     fields["id"].GetStringValue(),
		Name:   fields["name"].GetStringValue(),
		Active: fields["active"].GetBoolValue(),
	}, nil
}

// ValidateEmployee reports whether the employee exists and is active, with
// their display name.
func (c *StaffGRPCClient) ValidateEmployee(ctx context.Context, employeeID string) (bool, string, error) {
	emp, err := c.GetEmployee(ctx, employeeID)
	if err != nil {
		return false, "", err
	}
	if emp == nil {
		return false, "", nil
	}
	return emp.Active, emp.Name, nil
}
