package lottery

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// Execute message variants. Each message is a JSON object with exactly one
// key naming the variant, e.g. {"buy_ticket":{}}.
const (
	MsgBuyTicket = "buy_ticket"
	MsgEndRound  = "end_round"
	MsgPause     = "pause"
	MsgResume    = "resume"
)

// Query message variants.
const (
	QueryTicketID     = "get_ticket_id"
	QueryTicketNumber = "get_ticket_number"
	QueryRoundWinners = "get_round_winners"
	QueryConfig       = "config"
	QueryCurrentRound = "current_round"
	QueryContractInfo = "contract_info"
	QueryHistory      = "history"
)

// ExecuteMsg is the typed form of an execute message.
type ExecuteMsg struct {
	BuyTicket *struct{} `json:"buy_ticket,omitempty"`
	EndRound  *struct{} `json:"end_round,omitempty"`
	Pause     *struct{} `json:"pause,omitempty"`
	Resume    *struct{} `json:"resume,omitempty"`
}

// TicketIDQuery asks for the first ticket of an address.
type TicketIDQuery struct {
	Address string `json:"address"`
}

// RoundWinnersQuery asks for the winners of a closed round.
type RoundWinnersQuery struct {
	RoundID uint64 `json:"round_id"`
}

// HistoryQuery pages through closed rounds.
type HistoryQuery struct {
	StartAfter *uint64 `json:"start_after,omitempty"`
	Limit      int     `json:"limit,omitempty"`
}

// QueryMsg is the typed form of a query message.
type QueryMsg struct {
	GetTicketID     *TicketIDQuery     `json:"get_ticket_id,omitempty"`
	GetRoundWinners *RoundWinnersQuery `json:"get_round_winners,omitempty"`
	Config          *struct{}          `json:"config,omitempty"`
	CurrentRound    *struct{}          `json:"current_round,omitempty"`
	ContractInfo    *struct{}          `json:"contract_info,omitempty"`
	History         *HistoryQuery      `json:"history,omitempty"`
}

// Attribute is a key/value pair describing what an operation did.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is returned by Execute and Instantiate.
type Response struct {
	Attributes []Attribute     `json:"attributes"`
	Transfers  []Transfer      `json:"transfers,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Attribute returns the value of key, or "" when absent.
func (r Response) Attribute(key string) string {
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// variant splits a message into its single variant name and body.
func variant(raw []byte) (string, gjson.Result, error) {
	if !gjson.ValidBytes(raw) {
		return "", gjson.Result{}, fmt.Errorf("%w: malformed json", ErrUnknownMessage)
	}
	msg := gjson.ParseBytes(raw)
	if !msg.IsObject() {
		return "", gjson.Result{}, fmt.Errorf("%w: expected object", ErrUnknownMessage)
	}

	var (
		name  string
		body  gjson.Result
		count int
	)
	msg.ForEach(func(key, value gjson.Result) bool {
		count++
		name, body = key.String(), value
		return count < 2
	})
	if count != 1 {
		return "", gjson.Result{}, fmt.Errorf("%w: expected exactly one variant", ErrUnknownMessage)
	}
	return name, body, nil
}

func decodeBody(body gjson.Result, out any) error {
	if body.Type == gjson.Null || body.Raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(body.Raw), out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}
	return nil
}

// encodeData renders the Data payload of an execute response. The state
// change has already committed when this fails.
func encodeData(action string, v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s response: %w", action, err)
	}
	return data, nil
}

// InstantiateRaw decodes an instantiate message and runs Instantiate.
func (s *Service) InstantiateRaw(ctx context.Context, env Env, info MessageInfo, raw []byte) (Response, error) {
	var msg InstantiateMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}
	if _, err := s.Instantiate(ctx, env, info, msg); err != nil {
		return Response{}, err
	}
	return Response{Attributes: []Attribute{{Key: "method", Value: "instantiate"}}}, nil
}

// Execute decodes an execute message and dispatches it.
func (s *Service) Execute(ctx context.Context, env Env, info MessageInfo, raw []byte) (Response, error) {
	name, _, err := variant(raw)
	if err != nil {
		return Response{}, err
	}

	switch name {
	case MsgBuyTicket:
		receipt, err := s.BuyTicket(ctx, env, info)
		if err != nil {
			return Response{}, err
		}
		data, err := encodeData(MsgBuyTicket, receipt)
		if err != nil {
			return Response{}, err
		}
		return Response{
			Attributes: []Attribute{
				{Key: "action", Value: MsgBuyTicket},
				{Key: "ticket_id", Value: strconv.FormatUint(receipt.TicketNumber, 10)},
			},
			Data: data,
		}, nil

	case MsgEndRound:
		result, err := s.EndRound(ctx, env, info)
		if err != nil {
			return Response{}, err
		}
		data, err := encodeData(MsgEndRound, result)
		if err != nil {
			return Response{}, err
		}
		return Response{
			Attributes: []Attribute{
				{Key: "action", Value: MsgEndRound},
				{Key: "round_id", Value: strconv.FormatUint(result.RoundID, 10)},
			},
			Transfers: result.Transfers,
			Data:      data,
		}, nil

	case MsgPause:
		if err := s.Pause(ctx, info); err != nil {
			return Response{}, err
		}
		return Response{Attributes: []Attribute{{Key: "action", Value: MsgPause}}}, nil

	case MsgResume:
		if err := s.Resume(ctx, info); err != nil {
			return Response{}, err
		}
		return Response{Attributes: []Attribute{{Key: "action", Value: MsgResume}}}, nil
	}
	return Response{}, fmt.Errorf("%w: %q", ErrUnknownMessage, name)
}

// Query decodes a query message and returns the JSON-encoded answer.
func (s *Service) Query(ctx context.Context, raw []byte) (json.RawMessage, error) {
	name, body, err := variant(raw)
	if err != nil {
		return nil, err
	}

	var out any
	switch name {
	case QueryTicketID, QueryTicketNumber:
		var q TicketIDQuery
		if err := decodeBody(body, &q); err != nil {
			return nil, err
		}
		out, err = s.TicketNumber(ctx, q.Address)
	case QueryRoundWinners:
		var q RoundWinnersQuery
		if err := decodeBody(body, &q); err != nil {
			return nil, err
		}
		out, err = s.RoundWinners(ctx, q.RoundID)
	case QueryConfig:
		out, err = s.Config(ctx)
	case QueryCurrentRound:
		out, err = s.CurrentRound(ctx)
	case QueryContractInfo:
		out, err = s.ContractInfo(ctx)
	case QueryHistory:
		var q HistoryQuery
		if err := decodeBody(body, &q); err != nil {
			return nil, err
		}
		out, err = s.History(ctx, q.StartAfter, q.Limit)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, name)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}
