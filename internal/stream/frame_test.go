package stream

import (
	"encoding/json"
	"testing"

	"github.com/knotmsg/knot/internal/wire"
)

func TestValidateAcceptsMatchingPayloads(t *testing.T) {
	frames := []Frame{
		InitFrame("u1"),
		{Kind: KindMessage, Message: &wire.Message{ID: "m1"}},
		{Kind: KindReceipt, Receipt: &Receipt{MessageID: "m1", Status: "read"}},
		{Kind: KindOffer, Offer: &Offer{Type: "offer", SDP: "v=0"}},
		{Kind: KindAnswer, Answer: &Answer{Type: "answer", SDP: "v=0"}},
		{Kind: KindCandidate, Candidate: &Candidate{Candidate: "c"}},
		{Kind: KindLeave, SenderID: "u1"},
	}
	for _, f := range frames {
		if err := f.Validate(); err != nil {
			t.Errorf("kind %s: %v", f.Kind, err)
		}
	}
}

func TestValidateRejectsMissingPayload(t *testing.T) {
	frames := []Frame{
		{Kind: KindInit},                          // no identity
		{Kind: KindInit, SenderID: "u1"},          // is_init unset
		{Kind: KindMessage},                       // no message
		{Kind: KindReceipt},                       // no receipt
		{Kind: KindOffer},                         // no offer
		{Kind: KindAnswer},                        // no answer
		{Kind: KindCandidate},                     // no candidate
		{Kind: Kind("presence"), SenderID: "u1"},  // unknown kind
	}
	for _, f := range frames {
		if err := f.Validate(); err == nil {
			t.Errorf("kind %q with payload %+v passed validation", f.Kind, f)
		}
	}
}

func TestFrameJSONOmitsAbsentPayloads(t *testing.T) {
	raw, err := json.Marshal(Frame{
		Kind:       KindReceipt,
		SenderID:   "u1",
		ReceiverID: "u2",
		Receipt:    &Receipt{MessageID: "m1", Status: "read"},
	})
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, absent := range []string{"message", "offer", "answer", "candidate", "is_init"} {
		if _, ok := decoded[absent]; ok {
			t.Errorf("field %q present in %s", absent, raw)
		}
	}

	var back Frame
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if back.Kind != KindReceipt || back.Receipt == nil || back.Receipt.MessageID != "m1" {
		t.Errorf("round trip = %+v", back)
	}
}
