package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-tap-payments/app/factory"
	"github.com/vibast-solutions/ms-go-tap-payments/app/notify"
	"github.com/vibast-solutions/ms-go-tap-payments/app/types"
)

const defaultKeepAlive = 15 * time.Second

// EventsController streams a user's live settlement updates as server-sent events.
type EventsController struct {
	subscriber notify.Subscriber
	keepAlive  time.Duration
	logger     logrus.FieldLogger
}

func NewEventsController(subscriber notify.Subscriber, keepAlive time.Duration) *EventsController {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &EventsController{
		subscriber: subscriber,
		keepAlive:  keepAlive,
		logger:     factory.NewModuleLogger("events-controller"),
	}
}

func (c *EventsController) StreamUserEvents(ctx echo.Context) error {
	req, err := types.NewStreamEventsRequestFromContext(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: "invalid request"})
	}
	if err := req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: err.Error()})
	}

	reqCtx := ctx.Request().Context()
	logger := factory.LoggerWithContext(c.logger, ctx).WithField("user_id", req.GetUserId())

	sub, err := c.subscriber.Subscribe(reqCtx, req.GetUserId())
	if err != nil {
		logger.WithError(err).Error("Subscribe to user events failed")
		return ctx.JSON(http.StatusServiceUnavailable, &types.ErrorResponse{Error: "live events unavailable"})
	}
	defer func() {
		if err := sub.Close(); err != nil {
			logger.WithError(err).Warn("failed to close event subscription")
		}
	}()

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-reqCtx.Done():
			return nil
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			data, err := json.Marshal(event)
			if err != nil {
				logger.WithError(err).Warn("failed to encode live event")
				continue
			}
			if _, err := fmt.Fprintf(res, "event: status\ndata: %s\n\n", data); err != nil {
				return nil
			}
			res.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(res, ": keep-alive\n\n"); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}
