package leaseapi

import (
	"context"
	"errors"

	"github.com/veesix-networks/osvlease/pkg/lease"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server is the gRPC handler set for the lease service.
type Server interface {
	List(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Start(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Stop(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Renew(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	SetVersion(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("List", Server.List),
		unaryMethod("Get", Server.Get),
		unaryMethod("Start", Server.Start),
		unaryMethod("Stop", Server.Stop),
		unaryMethod("Renew", Server.Renew),
		unaryMethod("SetVersion", Server.SetVersion),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "osvlease/v1/lease.proto",
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unaryMethod[Req, Resp any](name string, call func(Server, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(Server), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(Server), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Register exposes svc on s.
func Register(s grpc.ServiceRegistrar, svc Service) {
	s.RegisterService(&ServiceDesc, &server{svc: svc})
}

type server struct {
	svc Service
}

func (s *server) List(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	statuses := s.svc.List()
	list := make([]InterfaceStatus, 0, len(statuses))
	for _, st := range statuses {
		list = append(list, FromStatus(st))
	}
	out, err := listToStruct(list)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode list: %v", err)
	}
	return out, nil
}

func (s *server) Get(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	iface, err := requireInterface(req)
	if err != nil {
		return nil, err
	}
	st, err := s.svc.Get(iface)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := statusToStruct(FromStatus(st))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}

func (s *server) Start(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	return s.command(req, s.svc.Start)
}

func (s *server) Stop(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	return s.command(req, s.svc.Stop)
}

func (s *server) Renew(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	return s.command(req, s.svc.Renew)
}

func (s *server) SetVersion(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	iface, err := requireInterface(req)
	if err != nil {
		return nil, err
	}
	v, err := lease.ParseIPVersion(stringField(req, fieldVersion))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.svc.SetVersion(iface, v); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *server) command(req *structpb.Struct, fn func(string) error) (*emptypb.Empty, error) {
	iface, err := requireInterface(req)
	if err != nil {
		return nil, err
	}
	if err := fn(iface); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func requireInterface(req *structpb.Struct) (string, error) {
	iface := stringField(req, fieldInterface)
	if iface == "" {
		return "", status.Error(codes.InvalidArgument, "interface is required")
	}
	return iface, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrUnknownInterface):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
