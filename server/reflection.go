package server

import (
	"fmt"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/builder"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/runtime/protoiface"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// InspectProtoFile is the path the inspection service descriptor is
// published under for reflection clients.
const InspectProtoFile = "pagevm/v1/inspect.proto"

var (
	inspectFileOnce sync.Once
	inspectFile     *desc.FileDescriptor
	inspectFileErr  error
)

// InspectFileDescriptor returns the descriptor of pagevm.v1.InspectService.
// The service is served without generated code, so the descriptor is
// built at runtime over the well-known message types it uses.
func InspectFileDescriptor() (*desc.FileDescriptor, error) {
	inspectFileOnce.Do(func() {
		inspectFile, inspectFileErr = buildInspectFile()
	})
	return inspectFile, inspectFileErr
}

func buildInspectFile() (*desc.FileDescriptor, error) {
	msg := func(m protoiface.MessageV1) (*builder.RpcType, error) {
		md, err := desc.LoadMessageDescriptorForMessage(m)
		if err != nil {
			return nil, err
		}
		return builder.RpcTypeImportedMessage(md, false), nil
	}

	var (
		empty, strct, list, i64, str *builder.RpcType
		err                          error
	)
	for _, t := range []struct {
		dst **builder.RpcType
		m   protoiface.MessageV1
	}{
		{&empty, &emptypb.Empty{}},
		{&strct, &structpb.Struct{}},
		{&list, &structpb.ListValue{}},
		{&i64, &wrapperspb.Int64Value{}},
		{&str, &wrapperspb.StringValue{}},
	} {
		if *t.dst, err = msg(t.m); err != nil {
			return nil, fmt.Errorf("server: load descriptor: %w", err)
		}
	}

	svc := builder.NewService("InspectService").
		AddMethod(builder.NewMethod("Stats", empty, strct)).
		AddMethod(builder.NewMethod("Describe", i64, strct)).
		AddMethod(builder.NewMethod("DescribeRoot", str, strct)).
		AddMethod(builder.NewMethod("ListRoots", empty, list))

	fd, err := builder.NewFile(InspectProtoFile).
		SetPackageName("pagevm.v1").
		AddService(svc).
		Build()
	if err != nil {
		return nil, fmt.Errorf("server: build inspect descriptor: %w", err)
	}
	return fd, nil
}

// RegisterReflection serves gRPC server reflection on gs, publishing the
// inspection service descriptor alongside the globally registered files.
func RegisterReflection(gs *grpc.Server) error {
	fd, err := InspectFileDescriptor()
	if err != nil {
		return err
	}
	file, err := protodesc.NewFile(fd.AsFileDescriptorProto(), protoregistry.GlobalFiles)
	if err != nil {
		return fmt.Errorf("server: convert inspect descriptor: %w", err)
	}
	files := new(protoregistry.Files)
	if err := files.RegisterFile(file); err != nil {
		return fmt.Errorf("server: register inspect descriptor: %w", err)
	}
	rpb.RegisterServerReflectionServer(gs, reflection.NewServer(reflection.ServerOptions{
		Services:           gs,
		DescriptorResolver: localFirst{files},
	}))
	return nil
}

// localFirst resolves from its own registry, then from the global one.
type localFirst struct {
	files *protoregistry.Files
}

func (r localFirst) FindFileByPath(path string) (protoreflect.FileDescriptor, error) {
	if fd, err := r.files.FindFileByPath(path); err == nil {
		return fd, nil
	}
	return protoregistry.GlobalFiles.FindFileByPath(path)
}

func (r localFirst) FindDescriptorByName(name protoreflect.FullName) (protoreflect.Descriptor, error) {
	if d, err := r.files.FindDescriptorByName(name); err == nil {
		return d, nil
	}
	return protoregistry.GlobalFiles.FindDescriptorByName(name)
}
