package exchange

import (
	"encoding/json"
	"fmt"
)

const (
	trTypeSubscribe   = "1"
	trTypeUnsubscribe = "2"
	custTypePersonal  = "P"
)

// Subscription is one (transaction type, instrument code) pair on the stream.
type Subscription struct {
	TrID string
	Code string
}

func (s Subscription) String() string { return s.TrID + ":" + s.Code }

type requestHeader struct {
	ApprovalKey string `json:"approval_key"`
	CustType    string `json:"custtype"`
	TrType      string `json:"tr_type"`
	ContentType string `json:"content-type"`
}

type requestInput struct {
	TrID  string `json:"tr_id"`
	TrKey string `json:"tr_key"`
}

type requestBody struct {
	Input requestInput `json:"input"`
}

type request struct {
	Header requestHeader `json:"header"`
	Body   requestBody   `json:"body"`
}

// SubscribeMessage encodes the register request for sub.
func SubscribeMessage(approvalKey string, sub Subscription) ([]byte, error) {
	return encodeRequest(approvalKey, trTypeSubscribe, sub)
}

// UnsubscribeMessage encodes the release request for sub.
func UnsubscribeMessage(approvalKey string, sub Subscription) ([]byte, error) {
	return encodeRequest(approvalKey, trTypeUnsubscribe, sub)
}

func encodeRequest(approvalKey, trType string, sub Subscription) ([]byte, error) {
	if approvalKey == "" {
		return nil, fmt.Errorf("subscription %s: empty approval key", sub)
	}
	if sub.TrID == "" || sub.Code == "" {
		return nil, fmt.Errorf("subscription %s: incomplete", sub)
	}
	return json.Marshal(request{
		Header: requestHeader{
			ApprovalKey: approvalKey,
			CustType:    custTypePersonal,
			TrType:      trType,
			ContentType: "utf-8",
		},
		Body: requestBody{Input: requestInput{TrID: sub.TrID, TrKey: sub.Code}},
	})
}
