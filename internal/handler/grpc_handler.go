package handler

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
	"github.com/pesio-ai/be-scm-fulfillment/internal/service"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "scm.fulfillment.v1.FulfillmentService"

// ActorMetadataKey carries the caller identity when a message has no
// actor_ref
const ActorMetadataKey = "x-actor-ref"

// FulfillmentServer is the gRPC surface. Every message is a
// google.protobuf.Struct holding the same JSON bodies as the HTTP API.
type FulfillmentServer interface {
	CreateOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddLine(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitForApproval(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Approve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reject(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkDispatched(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cancel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordReceipt(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordReturn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Finalize(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Replay(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// GRPCHandler implements FulfillmentServer
type GRPCHandler struct {
	service *service.FulfillmentService
	logger  zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(service *service.FulfillmentService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		service: service,
		logger:  logger.With().Str("handler", "grpc").Logger(),
	}
}

// Register adds the service to s
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&serviceDesc, h)
}

type structMethod func(h *GRPCHandler, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn structMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			h := srv.(*GRPCHandler)
			if interceptor == nil {
				return fn(h, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(h, ctx, req.(*structpb.Struct))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FulfillmentServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateOrder", (*GRPCHandler).CreateOrder),
		unary("GetOrder", (*GRPCHandler).GetOrder),
		unary("ListOrders", (*GRPCHandler).ListOrders),
		unary("AddLine", (*GRPCHandler).AddLine),
		unary("SubmitForApproval", (*GRPCHandler).SubmitForApproval),
		unary("Approve", (*GRPCHandler).Approve),
		unary("Reject", (*GRPCHandler).Reject),
		unary("MarkDispatched", (*GRPCHandler).MarkDispatched),
		unary("Cancel", (*GRPCHandler).Cancel),
		unary("RecordReceipt", (*GRPCHandler).RecordReceipt),
		unary("RecordReturn", (*GRPCHandler).RecordReturn),
		unary("Finalize", (*GRPCHandler).Finalize),
		unary("Replay", (*GRPCHandler).Replay),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "scm/fulfillment/v1/fulfillment.proto",
}

// fromStruct decodes in into v through its JSON form
func fromStruct(in *structpb.Struct, v any) error {
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return errors.InvalidInput("body", "invalid message: "+err.Error())
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.InvalidInput("body", "invalid message: "+err.Error())
	}
	return nil
}

// toStruct encodes v through its JSON form
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "encode response")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "encode response")
	}
	return out, nil
}

// actorRef returns explicit when set, else the caller from metadata
func actorRef(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(ActorMetadataKey); len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func (h *GRPCHandler) reply(v any, err error) (*structpb.Struct, error) {
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeInternal {
			h.logger.Error().Err(err).Msg("gRPC call failed")
		}
		return nil, mapErrorToGRPC(err)
	}
	out, err := toStruct(v)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return out, nil
}

// CreateOrder creates a new order
func (h *GRPCHandler) CreateOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body createOrderBody
	if err := fromStruct(in, &body); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	body.CreatedBy = actorRef(ctx, body.CreatedBy)

	h.logger.Info().
		Str("kind", string(body.Kind)).
		Str("counterparty_ref", body.CounterpartyRef).
		Int("line_count", len(body.Lines)).
		Msg("gRPC CreateOrder called")

	order, err := h.service.CreateOrder(ctx, body.request())
	if err != nil {
		return h.reply(nil, err)
	}
	return h.reply(newOrderView(order), nil)
}

// GetOrder retrieves an order by order_id
func (h *GRPCHandler) GetOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body orderActionBody
	if err := fromStruct(in, &body); err != nil {
		return nil, mapErrorToGRPC(err)
	}

	order, err := h.service.GetOrder(ctx, body.OrderID)
	if err != nil {
		return h.reply(nil, err)
	}
	return h.reply(newOrderView(order), nil)
}

// ListOrders lists orders with filtering and pagination
func (h *GRPCHandler) ListOrders(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body listOrdersBody
	if err := fromStruct(in, &body); err != nil {
		return nil, mapErrorToGRPC(err)
	}

	filter, page, pageSize := body.filter()
	orders, total, err := h.service.ListOrders(ctx, filter)
	if err != nil {
		return h.reply(nil, err)
	}
	return h.reply(map[string]any{
		"orders":    newOrderViews(orders),
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	}, nil)
}

// AddLine appends a line to an order
func (h *GRPCHandler) AddLine(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body addLineBody
	if err := fromStruct(in, &body); err != nil {
		return nil, mapErrorToGRPC(err)
	}

	order, err := h.service.AddLine(ctx, &service.AddLineRequest{
		OrderID:  body.OrderID,
		Line:     body.Line.request(),
		ActorRef: actorRef(ctx, body.ActorRef),
	})
	if err != nil {
		return h.reply(nil, err)
	}
	return h.reply(newOrderView(order), nil)
}

// SubmitForApproval submits an order for approval
func (h *GRPCHandler) SubmitForApproval(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body orderActionBody
	if err := fromStruct(in, &body); err != nil {
		return nil, mapErrorToGRPC(err)
	}

	order, err := h.service.SubmitForApproval(ctx, &service.SubmitRequest{
		OrderID:  body.OrderID,
		ActorRef: actorRef(ctx, body.ActorRef),
	})
	if err != nil {
		return h.reply(nil, err)
	}
	return h.reply(newOrderView(order), nil)
}

// Approve approves an order
func (h *GRPCHandler) Approve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body orderActionBody
	if err := fromStruct(in, &body); err != nil {
		return nil, mapErrorToGRPC(err)
	}

	h.logger.Info().
		Str("order_id", body.OrderID).
		Msg("gRPC Approve called")

	order, err := h.service.Approve(ctx, &service.ApproveRequest{
		OrderID:     body.OrderID,
		ApproverRef: actorRef(ctx, body.ActorRef),
	})
	if err != nil {
		return h.reply(nil, err)
	}
	return h.reply(newOrderView(order), nil)
}

// Reject rejects an order
func (h *GRPCHandler) Reject(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body orderActionBody
	if err := fromStruct(in, &body); err != nil {
		return nil, mapErrorToGRPC(err)
	}

	order, err := h.service.Reject(ctx, &service.RejectRequest{
		OrderID:     body.OrderID,
		ApproverRef: actorRef(ctx, body.ActorRef),
		Reason:      body.Reason,
	})
	if err != nil {
		return h.reply(nil, err)
	}
	return h.reply(newOrderView(order), nil)
}

// MarkDispatched records that an order was sent to the counterparty
func (h *GRPCHandler) MarkDispatched(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body orderActionBody
	if err := fromStruct(in, &body); err != nil {
		return nil, mapErrorToGRPC(err)
	}

	order, changed, err := h.service.MarkDispatched(ctx, &service.DispatchRequest{
		OrderID:  body.OrderID,
		Channel:  body.Channel,
		ActorRef: actorRef(ctx, body.ActorRef),
	})
	if err != nil {
		return h.reply(nil, err)
	}
	return h.reply(map[string]any{"order": newOrderView(order), "changed": changed}, nil)
}

// Cancel cancels an order
func (h *GRPCHandler) Cancel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body orderActionBody
	if err := fromStruct(in, &body); err != nil {
		return nil, mapErrorToGRPC(err)
	}

	order, err := h.service.Cancel(ctx, &service.CancelRequest{
		OrderID:  body.OrderID,
		ActorRef: actorRef(ctx, body.ActorRef),
		Reason:   body.Reason,
	})
	if err != nil {
		return h.reply(nil, err)
	}
	return h.reply(newOrderView(order), nil)
}

// RecordReceipt records a goods receipt batch
func (h *GRPCHandler) RecordReceipt(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body fulfillmentBody
	if err := fromStruct(in, &body); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	body.ActorRef = actorRef(ctx, body.ActorRef)

	h.logger.Info().
		Str("order_id", body.OrderID).
		Int("line_count", len(body.Lines)).
		Msg("gRPC RecordReceipt called")

	res, err := h.service.RecordReceipt(ctx, body.request())
	if err != nil {
		return h.reply(nil, err)
	}
	return h.reply(newFulfillmentResponse(res), nil)
}

// RecordReturn records a return batch
func (h *GRPCHandler) RecordReturn(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body fulfillmentBody
	if err := fromStruct(in, &body); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	body.ActorRef = actorRef(ctx, body.ActorRef)

	res, err := h.service.RecordReturn(ctx, body.request())
	if err != nil {
		return h.reply(nil, err)
	}
	return h.reply(newFulfillmentResponse(res), nil)
}

// Finalize asserts that an order is complete
func (h *GRPCHandler) Finalize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body orderActionBody
	if err := fromStruct(in, &body); err != nil {
		return nil, mapErrorToGRPC(err)
	}

	order, err := h.service.Finalize(ctx, body.OrderID)
	if err != nil {
		return h.reply(nil, err)
	}
	return h.reply(newOrderView(order), nil)
}

// Replay reports divergence between an order and its event log
func (h *GRPCHandler) Replay(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body orderActionBody
	if err := fromStruct(in, &body); err != nil {
		return nil, mapErrorToGRPC(err)
	}

	report, err := h.service.Replay(ctx, body.OrderID)
	if err != nil {
		return h.reply(nil, err)
	}
	return h.reply(report, nil)
}
