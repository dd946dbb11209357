package subscription

import (
	"bytes"
	"strconv"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"upbit-observer/src/helpers"
	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------
// Inbound Frame Decoding
//
// Each frame decodes to either a single trade object or an array of them;
// both shapes are normalized to a list before forwarding downstream.
// Malformed frames and invalid trades are dropped here, never propagated.
// -----------------------------------------------------------------------------

// tradeMessage is the wire shape of one trade event from the exchange.
type tradeMessage struct {
	Type         string  `json:"type"`
	Code         string  `json:"code" validate:"required"`
	TradePrice   float64 `json:"trade_price" validate:"required,gt=0"`
	TradeVolume  float64 `json:"trade_volume" validate:"required,gt=0"`
	AskBid       string  `json:"ask_bid" validate:"required,oneof=ASK BID"`
	SequentialID int64   `json:"sequential_id"`
	TimestampMs  int64   `json:"timestamp" validate:"required,gt=0"`
}

// -----------------------------------------------------------------------------

type frameDecoder struct {
	validate *validator.Validate
}

func newFrameDecoder() *frameDecoder {
	return &frameDecoder{validate: validator.New()}
}

// -----------------------------------------------------------------------------

// decodeFrame normalizes one inbound frame to a list of trade messages.
func (d *frameDecoder) decodeFrame(data []byte) ([]tradeMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, helpers.NewDecodeError("empty frame", nil)
	}

	if trimmed[0] == '[' {
		var msgs []tradeMessage
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, helpers.NewDecodeError("failed to decode frame array", err)
		}
		return msgs, nil
	}

	var msg tradeMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, helpers.NewDecodeError("failed to decode frame object", err)
	}
	return []tradeMessage{msg}, nil
}

// -----------------------------------------------------------------------------

// normalize validates one wire message and converts it to a typed trade.
func (d *frameDecoder) normalize(msg tradeMessage) (models.MTrade, error) {
	if err := d.validate.Struct(msg); err != nil {
		return models.MTrade{}, helpers.NewDecodeError("trade message failed validation", err)
	}

	side := models.SideSell
	if msg.AskBid == "BID" {
		side = models.SideBuy
	}

	return models.MTrade{
		Symbol:      msg.Code,
		Price:       msg.TradePrice,
		Volume:      msg.TradeVolume,
		Side:        side,
		SequenceID:  strconv.FormatInt(msg.SequentialID, 10),
		TimestampMs: msg.TimestampMs,
	}, nil
}
