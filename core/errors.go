package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	IngestErrorBadInput         = "INGEST_BAD_INPUT"
	IngestErrorEventNotFound    = "INGEST_EVENT_NOT_FOUND"
	IngestErrorDispatchNotFound = "INGEST_DISPATCH_NOT_FOUND"
	IngestErrorDuplicateEvent   = "INGEST_DUPLICATE_EVENT"
	IngestErrorClaimLost        = "INGEST_CLAIM_LOST"
	IngestErrorConsumerFailed   = "INGEST_CONSUMER_FAILED"
	IngestErrorRetriesExhausted = "INGEST_RETRIES_EXHAUSTED"
	IngestErrorBroadcastFailed  = "INGEST_BROADCAST_FAILED"
	IngestErrorStoreUnavailable = "INGEST_STORE_UNAVAILABLE"
	IngestErrorInternal         = "INGEST_INTERNAL_ERROR"
)

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureIngestErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "event") && strings.Contains(msg, "not found"):
		return newIngestError(err.Error(), goerrors.CategoryNotFound, IngestErrorEventNotFound)
	case strings.Contains(msg, "dispatch") && strings.Contains(msg, "not found"):
		return newIngestError(err.Error(), goerrors.CategoryNotFound, IngestErrorDispatchNotFound)
	case strings.Contains(msg, "claim"):
		return newIngestError(err.Error(), goerrors.CategoryConflict, IngestErrorClaimLost)
	case strings.Contains(msg, "broadcast"), strings.Contains(msg, "publish"):
		return newIngestError(err.Error(), goerrors.CategoryExternal, IngestErrorBroadcastFailed)
	case strings.Contains(msg, "database"), strings.Contains(msg, "connection refused"), strings.Contains(msg, "sql"):
		return newIngestError(err.Error(), goerrors.CategoryOperation, IngestErrorStoreUnavailable)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newIngestError(err.Error(), goerrors.CategoryBadInput, IngestErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureIngestErrorEnvelope(mapped)
}

func newIngestError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureIngestErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureIngestErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = ingestHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultIngestTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultIngestTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return IngestErrorBadInput
	case goerrors.CategoryNotFound:
		return IngestErrorEventNotFound
	case goerrors.CategoryConflict:
		return IngestErrorClaimLost
	case goerrors.CategoryExternal:
		return IngestErrorBroadcastFailed
	case goerrors.CategoryOperation:
		return IngestErrorStoreUnavailable
	default:
		return IngestErrorInternal
	}
}

func ingestHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
