package exchange

import (
	"encoding/json"
	"testing"

	"github.com/suman-kim/auto-trade-server-sub000/internal/market"
)

func TestFeedCodes(t *testing.T) {
	if got := NightCode("nas", "tsla"); got != "DNASTSLA" {
		t.Fatalf("NightCode = %q", got)
	}
	if got := DayCode("NAS", "TSLA"); got != "RBAQTSLA" {
		t.Fatalf("DayCode = %q", got)
	}
	if got := DayCode("HKS", "00700"); got != "" {
		t.Fatalf("expected no daytime code, got %q", got)
	}
	if got := SanitizeCode(" brk.b "); got != "BRKB" {
		t.Fatalf("SanitizeCode = %q", got)
	}
	inst := FillCodes(market.Instrument{Symbol: "AAPL", Exchange: "NAS", DayCode: "RBAQAAPL"})
	if inst.NightCode != "DNASAAPL" || inst.DayCode != "RBAQAAPL" {
		t.Fatalf("unexpected codes %+v", inst)
	}
}

func TestSubscribeMessages(t *testing.T) {
	sub := Subscription{TrID: TrOverseasTrade, Code: "DNASTSLA"}
	raw, err := UnsubscribeMessage("key", sub)
	if err != nil {
		t.Fatalf("UnsubscribeMessage returned error: %v", err)
	}
	var decoded map[string]map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["header"]["tr_type"] != "2" || decoded["header"]["approval_key"] != "key" {
		t.Fatalf("unexpected header %+v", decoded["header"])
	}
	input := decoded["body"]["input"].(map[string]any)
	if input["tr_id"] != TrOverseasTrade || input["tr_key"] != "DNASTSLA" {
		t.Fatalf("unexpected input %+v", input)
	}
	if _, err := SubscribeMessage("", sub); err == nil {
		t.Fatal("expected error for empty approval key")
	}
}
