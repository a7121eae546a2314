package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/angelmondragon/dualcart-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/dualcart-backend/pkg/errors"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, SuccessEnvelope{Data: data})
}

// WriteResult renders a cart operation. Rejected operations use the status of
// their failure code but keep the cart snapshot in the body.
func WriteResult(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, res *cart.OperationResult) {
	WriteResultView(ctx, logg, w, res, res)
}

// WriteResultView is WriteResult with a caller supplied body, for handlers that
// expose parts of the result the engine type keeps out of JSON.
func WriteResultView(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, res *cart.OperationResult, view any) {
	if res == nil {
		WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "missing operation result"))
		return
	}
	status := http.StatusOK
	if code := res.FailureCode(); code != "" {
		status = code.Status()
		if logg != nil {
			logCtx := logg.WithFields(ctx, map[string]any{"failure_code": code})
			logg.Info(logCtx, "cart.operation.rejected")
		}
	}
	WriteSuccessStatus(w, status, view)
}

func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}

	code := typed.Code()
	msg := code.PublicMessage()
	if m := typed.Message(); m != "" && code.ExposesMessage() {
		msg = m
	}

	payload := ErrorEnvelope{
		Error: APIError{
			Code:      string(code),
			Message:   msg,
			RequestID: logger.RequestID(ctx),
		},
	}
	if code.ExposesDetails() {
		payload.Error.Details = typed.Details()
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, pkgerrors.LogFields(err))
		if code.Status() >= http.StatusInternalServerError {
			logg.Error(ctx, "request.error", err)
		} else {
			logg.Warn(ctx, "request.error")
		}
	}

	writeJSON(w, code.Status(), payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
