package sync

import "encoding/json"

// Wire headers carried on every delivery.
const (
	HeaderAgentID    = "X-Agent-Id"
	HeaderTimestamp  = "X-Timestamp"
	HeaderSignature  = "X-Signature"
	HeaderDeliveryID = "X-Delivery-Id"
)

// envelopeType is the fixed discriminator on the wire body.
const envelopeType = "playbook_execution"

type envelopeBody struct {
	Type    string          `json:"type"`
	Payload envelopePayload `json:"payload"`
}

type envelopePayload struct {
	PlaybookID string `json:"playbook_id"`
	Result     any    `json:"result"`
	Agent      string `json:"agent"`
}

// encodeBody serializes the canonical wire body. The same bytes are signed
// and sent; the body is never re-marshaled between signing and transport.
func encodeBody(agent, playbookID string, result any) ([]byte, error) {
	return json.Marshal(envelopeBody{
		Type: envelopeType,
		Payload: envelopePayload{
			PlaybookID: playbookID,
			Result:     result,
			Agent:      agent,
		},
	})
}
