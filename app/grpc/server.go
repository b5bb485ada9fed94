package grpc

import (
	"context"
	"errors"

	"github.com/vibast-solutions/ms-go-tap-payments/app/mapper"
	"github.com/vibast-solutions/ms-go-tap-payments/app/service"
	"github.com/vibast-solutions/ms-go-tap-payments/app/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Server struct {
	paymentService *service.PaymentService
}

func NewServer(paymentService *service.PaymentService) *Server {
	return &Server{paymentService: paymentService}
}

// Authorize answers a tap. Degraded authorization is not a transport error: the
// caller receives the fallback denial with fallback=true.
func (s *Server) Authorize(ctx context.Context, req *types.TapRequest) (*types.TapResponse, error) {
	l := loggerWithContext(ctx)
	req.Normalize()
	if err := req.Validate(); err != nil {
		l.WithError(err).Debug("Authorize validation failed")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	result, err := s.paymentService.Tap(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrUnknownTerminal):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		case errors.Is(err, service.ErrAuthorizationUnavailable) && result != nil:
			return mapper.TapToResponse(result.Decision, nil), nil
		default:
			l.WithError(err).Error("Authorize failed")
			return nil, status.Error(codes.Unavailable, service.ReasonServiceUnavailable)
		}
	}

	return mapper.TapToResponse(result.Decision, result.Transaction), nil
}

func (s *Server) GetTransaction(ctx context.Context, req *types.GetTransactionRequest) (*types.TransactionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.GetTransaction(ctx, req.GetId())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTransactionNotFound):
			return nil, status.Error(codes.NotFound, "transaction not found")
		case errors.Is(err, service.ErrInvalidRequest):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		default:
			loggerWithContext(ctx).WithError(err).Error("Get transaction failed")
			return nil, status.Error(codes.Internal, "internal server error")
		}
	}

	return &types.TransactionResponse{Transaction: mapper.TransactionToResponse(item)}, nil
}

func (s *Server) CancelTransaction(ctx context.Context, req *types.CancelTransactionRequest) (*types.TransactionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.CancelTransaction(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTransactionNotFound):
			return nil, status.Error(codes.NotFound, "transaction not found")
		case errors.Is(err, service.ErrInvalidStatus):
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		case errors.Is(err, service.ErrInvalidRequest):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		default:
			loggerWithContext(ctx).WithError(err).Error("Cancel transaction failed")
			return nil, status.Error(codes.Internal, "internal server error")
		}
	}

	return &types.TransactionResponse{Transaction: mapper.TransactionToResponse(item)}, nil
}
