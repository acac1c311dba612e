package failure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"

	"analysis-pipeline/internal/entity"
)

var retryable = map[Category]bool{
	RateLimit:       true,
	NetworkError:    true,
	Timeout:         true,
	APIError:        true,
	Unknown:         true,
	ProcessingError: true,
	QuotaExceeded:   false,
	ValidationError: false,
}

// Retryable reports whether failures of the category may be retried.
func Retryable(c Category) bool {
	return retryable[c]
}

// Classify maps err to a category and a retryability flag.
func Classify(err error) (Category, bool) {
	c := category(err)
	var coded *CodedError
	if errors.As(err, &coded) {
		return c, coded.Retryable
	}
	return c, Retryable(c)
}

// Code is the error code written on the ledger entry for err.
func Code(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) && coded.Code != "" {
		return coded.Code
	}
	return strings.ToUpper(string(category(err)))
}

func category(err error) Category {
	if err == nil {
		return Unknown
	}

	var coded *CodedError
	if errors.As(err, &coded) && coded.Category != "" {
		return coded.Category
	}

	switch {
	case errors.Is(err, ErrQuota):
		return QuotaExceeded
	case errors.Is(err, ErrValidation):
		return ValidationError
	case errors.Is(err, ErrRateLimit):
		return RateLimit
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, ErrNetwork):
		return NetworkError
	case errors.Is(err, ErrAPI):
		return APIError
	case errors.Is(err, ErrProcessing):
		return ProcessingError
	}

	var ext *ExternalError
	if errors.As(err, &ext) && ext.StatusCode != 0 {
		return byStatus(ext.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Timeout
		}
		return NetworkError
	}
	return byMessage(err.Error())
}

func byStatus(code int) Category {
	switch {
	case code == http.StatusTooManyRequests:
		return RateLimit
	case code == http.StatusPaymentRequired:
		return QuotaExceeded
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return Timeout
	case code == http.StatusBadRequest, code == http.StatusNotFound,
		code == http.StatusUnprocessableEntity, code == http.StatusGone:
		return ValidationError
	default:
		return APIError
	}
}

func byMessage(msg string) Category {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "rate limit"), strings.Contains(m, "too many requests"):
		return RateLimit
	case strings.Contains(m, "quota"):
		return QuotaExceeded
	case strings.Contains(m, "timeout"), strings.Contains(m, "timed out"), strings.Contains(m, "deadline exceeded"):
		return Timeout
	case strings.Contains(m, "connection refused"), strings.Contains(m, "connection reset"),
		strings.Contains(m, "no such host"), strings.Contains(m, "network"):
		return NetworkError
	default:
		return Unknown
	}
}

// UserMessage is the short client facing text for a failure. It never
// includes raw error text.
func UserMessage(stage entity.Stage, c Category) string {
	var what string
	switch stage {
	case entity.StageFetchingPosts, entity.StageRequestCreated, entity.StageRetrying:
		what = "We couldn't fetch your posts"
	case entity.StageCollectingMedia, entity.StageSocialDataFetched, entity.StagePartialSuccess:
		what = "We couldn't process the post media"
	case entity.StageTranscribing:
		what = "We couldn't transcribe the video"
	case entity.StageDisplayingContent:
		what = "We couldn't prepare the content"
	case entity.StageAnalysing, entity.StageAnalysisComplete:
		what = "We couldn't analyse your content"
	default:
		what = "Processing failed"
	}

	var why string
	switch c {
	case RateLimit:
		why = "the service is receiving too many requests"
	case NetworkError:
		why = "of a network problem"
	case Timeout:
		why = "the request took too long"
	case APIError:
		why = "an upstream service returned an error"
	case QuotaExceeded:
		why = "your usage allowance is exhausted"
	case ValidationError:
		why = "the link could not be processed"
	case ProcessingError:
		why = "of an internal processing problem"
	default:
		why = "of an unexpected problem"
	}
	return fmt.Sprintf("%s because %s.", what, why)
}

// ActionHint is the actionable next step shown alongside UserMessage.
func ActionHint(c Category) string {
	switch c {
	case RateLimit:
		return "Wait a few minutes, then retry."
	case NetworkError, Timeout, APIError, Unknown, ProcessingError:
		return "Retry the request."
	case QuotaExceeded:
		return "Wait for your allowance to reset or upgrade your plan."
	case ValidationError:
		return "Check the link and submit it again."
	default:
		return ""
	}
}

// Diagnostic is operator-only detail kept on the job.
type Diagnostic struct {
	Type         string         `json:"type"`
	Message      string         `json:"message"`
	Service      string         `json:"service,omitempty"`
	StatusCode   int            `json:"status_code,omitempty"`
	ResponseBody string         `json:"response_body,omitempty"`
	Trace        map[string]any `json:"trace,omitempty"`
}

// Diagnose renders the internal diagnostic blob for err.
func Diagnose(err error) json.RawMessage {
	if err == nil {
		return nil
	}
	d := Diagnostic{
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
		Trace:   eris.ToJSON(err, true),
	}
	var ext *ExternalError
	if errors.As(err, &ext) {
		d.Service = ext.Service
		d.StatusCode = ext.StatusCode
		d.ResponseBody = ext.Body
	}
	raw, mErr := json.Marshal(d)
	if mErr != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
