package mapper

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/canvasmesh/canvas/internal/domain"
	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

// Wire form is JSON. The empty string is the canonical representation of an
// absent item: parsing blank yields the zero DTO without error.

// DocumentDTO is the validated record form of a document.
type DocumentDTO struct {
	DocID     string `json:"docId"`
	URL       string `json:"url,omitempty"`
	Body      string `json:"body,omitempty"`
	FetchedAt string `json:"fetchedAt,omitempty"`
}

// TokenBatchDTO is the validated record form of a token batch.
type TokenBatchDTO struct {
	DocID   string   `json:"docId"`
	BatchNo int      `json:"batchNo"`
	Tokens  []string `json:"tokens,omitempty"`
}

// CheckpointDTO is the validated record form of a checkpoint.
type CheckpointDTO struct {
	OrderID    string           `json:"orderId"`
	CustomerID string           `json:"customerId,omitempty"`
	ReadyAt    string           `json:"readyAt,omitempty"`
	Aggregates map[string]int64 `json:"aggregates,omitempty"`
}

func parseWire[T any](wire string) (T, error) {
	var dto T
	if strings.TrimSpace(wire) == "" {
		return dto, nil
	}
	if err := json.Unmarshal([]byte(wire), &dto); err != nil {
		return dto, canvaserrors.NewInvalidInput("malformed wire payload", err)
	}
	return dto, nil
}

func toWire[T any](dto T) (string, error) {
	data, err := json.Marshal(dto)
	if err != nil {
		return "", canvaserrors.NewInvalidInput("unserializable payload", err)
	}
	return string(data), nil
}

func parseID(field, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", canvaserrors.NewInvalidInput("missing required identifier", nil).
			WithContext(map[string]any{"field": field})
	}
	if _, err := uuid.Parse(value); err != nil {
		return "", canvaserrors.NewInvalidInput("identifier is not a UUID", err).
			WithContext(map[string]any{"field": field})
	}
	return value, nil
}

func parseTimestamp(field, value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, canvaserrors.NewInvalidInput("timestamp is not RFC 3339", err).
			WithContext(map[string]any{"field": field})
	}
	return ts, nil
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

// NewDocumentMapper builds the bijective document mapper.
func NewDocumentMapper() Mapper[string, DocumentDTO, domain.Document] {
	return Mapper[string, DocumentDTO, domain.Document]{
		FromWireFn: parseWire[DocumentDTO],
		ToWireFn:   toWire[DocumentDTO],
		FromDTOFn: func(dto DocumentDTO) (domain.Document, error) {
			id, err := parseID("docId", dto.DocID)
			if err != nil {
				return domain.Document{}, err
			}
			fetchedAt, err := parseTimestamp("fetchedAt", dto.FetchedAt)
			if err != nil {
				return domain.Document{}, err
			}
			return domain.Document{DocID: id, URL: dto.URL, Body: dto.Body, FetchedAt: fetchedAt}, nil
		},
		ToDTOFn: func(d domain.Document) (DocumentDTO, error) {
			return DocumentDTO{
				DocID:     d.DocID,
				URL:       d.URL,
				Body:      d.Body,
				FetchedAt: formatTimestamp(d.FetchedAt),
			}, nil
		},
	}
}

// NewTokenBatchMapper builds the bijective token batch mapper.
func NewTokenBatchMapper() Mapper[string, TokenBatchDTO, domain.TokenBatch] {
	return Mapper[string, TokenBatchDTO, domain.TokenBatch]{
		FromWireFn: parseWire[TokenBatchDTO],
		ToWireFn:   toWire[TokenBatchDTO],
		FromDTOFn: func(dto TokenBatchDTO) (domain.TokenBatch, error) {
			id, err := parseID("docId", dto.DocID)
			if err != nil {
				return domain.TokenBatch{}, err
			}
			return domain.TokenBatch{DocID: id, BatchNo: dto.BatchNo, Tokens: dto.Tokens}, nil
		},
		ToDTOFn: func(d domain.TokenBatch) (TokenBatchDTO, error) {
			return TokenBatchDTO{DocID: d.DocID, BatchNo: d.BatchNo, Tokens: d.Tokens}, nil
		},
	}
}

// NewCheckpointMapper builds the bijective checkpoint mapper.
func NewCheckpointMapper() Mapper[string, CheckpointDTO, domain.Checkpoint] {
	return Mapper[string, CheckpointDTO, domain.Checkpoint]{
		FromWireFn: parseWire[CheckpointDTO],
		ToWireFn:   toWire[CheckpointDTO],
		FromDTOFn: func(dto CheckpointDTO) (domain.Checkpoint, error) {
			id, err := parseID("orderId", dto.OrderID)
			if err != nil {
				return domain.Checkpoint{}, err
			}
			readyAt, err := parseTimestamp("readyAt", dto.ReadyAt)
			if err != nil {
				return domain.Checkpoint{}, err
			}
			return domain.Checkpoint{
				OrderID:    id,
				CustomerID: dto.CustomerID,
				ReadyAt:    readyAt,
				Aggregates: dto.Aggregates,
			}, nil
		},
		ToDTOFn: func(d domain.Checkpoint) (CheckpointDTO, error) {
			return CheckpointDTO{
				OrderID:    d.OrderID,
				CustomerID: d.CustomerID,
				ReadyAt:    formatTimestamp(d.ReadyAt),
				Aggregates: d.Aggregates,
			}, nil
		},
	}
}
