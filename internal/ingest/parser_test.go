package ingest

import (
	"testing"
	"time"
)

func testParser() *Parser {
	p := NewParser(1234)
	p.now = func() time.Time { return time.Unix(1700000000, 0) }
	return p
}

func TestParse_SendGiftFlat(t *testing.T) {
	raw := []byte(`{
		"cmd": "SEND_GIFT",
		"data": {
			"uid": 42,
			"uname": "观众甲",
			"giftName": "人气票",
			"giftId": 31036,
			"num": 5,
			"total_coin": 500,
			"timestamp": 1717243200
		}
	}`)

	ev, cmd, err := testParser().Parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd != CmdSendGift {
		t.Errorf("cmd = %q", cmd)
	}
	if ev == nil {
		t.Fatal("expected an event")
	}
	if ev.RoomID != 1234 || ev.DonorName != "观众甲" || ev.GiftName != "人气票" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.DonorUID == nil || *ev.DonorUID != 42 {
		t.Errorf("uid = %v", ev.DonorUID)
	}
	if ev.GiftID != 31036 || ev.Quantity != 5 || ev.TotalPrice != 500 || ev.Ts != 1717243200 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParse_NestedDataData(t *testing.T) {
	raw := []byte(`{
		"cmd": "SEND_GIFT",
		"data": {
			"data": {
				"uid": 42,
				"uname": "观众甲",
				"gift_name": "辣条",
				"gift_id": 1,
				"num": 10
			}
		}
	}`)

	ev, _, err := testParser().Parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ev == nil {
		t.Fatal("expected an event from nested payload")
	}
	if ev.GiftName != "辣条" || ev.Quantity != 10 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParse_GiftFieldsUnderGiftObject(t *testing.T) {
	raw := []byte(`{
		"cmd": "SEND_GIFT",
		"data": {
			"uname": "观众甲",
			"gift": {"giftName": "小花花", "giftId": 31251},
			"num": 1
		}
	}`)

	ev, _, err := testParser().Parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ev == nil {
		t.Fatal("expected an event")
	}
	if ev.GiftName != "小花花" || ev.GiftID != 31251 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParse_ComboSend(t *testing.T) {
	raw := []byte(`{
		"cmd": "COMBO_SEND",
		"data": {
			"uname": "观众乙",
			"gift_name": "人气票",
			"gift_id": 31036,
			"combo_num": 20,
			"combo_total_coin": 2000
		}
	}`)

	ev, cmd, err := testParser().Parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd != CmdComboSend || ev == nil {
		t.Fatalf("cmd = %q, ev = %v", cmd, ev)
	}
	if ev.Quantity != 20 || ev.TotalPrice != 2000 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParse_GuardBuy(t *testing.T) {
	raw := []byte(`{
		"cmd": "GUARD_BUY",
		"data": {
			"uid": 7,
			"username": "观众丙",
			"guard_level": 3,
			"num": 1,
			"price": 198000,
			"start_time": 1717243300
		}
	}`)

	ev, cmd, err := testParser().Parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd != CmdGuardBuy || ev == nil {
		t.Fatalf("cmd = %q, ev = %v", cmd, ev)
	}
	if ev.GiftName != "舰长" {
		t.Errorf("guard level 3 should resolve to 舰长, got %q", ev.GiftName)
	}
	if ev.GiftID != 3 || ev.TotalPrice != 198000 || ev.Ts != 1717243300 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParse_GuardBuyUnknownLevel(t *testing.T) {
	raw := []byte(`{"cmd": "GUARD_BUY", "data": {"username": "观众丙", "guard_level": 9}}`)

	ev, _, err := testParser().Parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ev == nil || ev.GiftName != "大航海" {
		t.Fatalf("unknown guard level should fall back to 大航海, got %v", ev)
	}
}

func TestParse_DispatchWrapper(t *testing.T) {
	raw := []byte(`{
		"name": "SEND_GIFT",
		"data": [{
			"data": {"uname": "观众甲", "gift_name": "人气票", "gift_id": 31036, "num": 2}
		}]
	}`)

	ev, cmd, err := testParser().Parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd != CmdSendGift {
		t.Errorf("wrapper name should become cmd, got %q", cmd)
	}
	if ev == nil || ev.Quantity != 2 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestParse_IgnoresOtherCommands(t *testing.T) {
	raw := []byte(`{"cmd": "DANMU_MSG", "data": {"uname": "观众甲"}}`)

	ev, cmd, err := testParser().Parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ev != nil {
		t.Errorf("non-gift command should be ignored, got %+v", ev)
	}
	if cmd != "DANMU_MSG" {
		t.Errorf("cmd = %q", cmd)
	}
}

func TestParse_MissingDonorName(t *testing.T) {
	raw := []byte(`{"cmd": "SEND_GIFT", "data": {"gift_name": "人气票", "num": 1}}`)

	ev, _, err := testParser().Parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ev != nil {
		t.Errorf("payload without a donor name should be dropped, got %+v", ev)
	}
}

func TestParse_DefaultsQuantityAndTimestamp(t *testing.T) {
	raw := []byte(`{"cmd": "SEND_GIFT", "data": {"uname": "观众甲", "gift_name": "人气票"}}`)

	ev, _, err := testParser().Parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ev == nil {
		t.Fatal("expected an event")
	}
	if ev.Quantity != 1 {
		t.Errorf("quantity should default to 1, got %d", ev.Quantity)
	}
	if ev.Ts != 1700000000 {
		t.Errorf("missing timestamp should fall back to now, got %d", ev.Ts)
	}
}

func TestParse_StringNumbers(t *testing.T) {
	raw := []byte(`{"cmd": "SEND_GIFT", "data": {"uid": "42", "uname": "观众甲", "gift_name": "人气票", "num": "3"}}`)

	ev, _, err := testParser().Parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ev == nil {
		t.Fatal("expected an event")
	}
	if ev.DonorUID == nil || *ev.DonorUID != 42 || ev.Quantity != 3 {
		t.Errorf("string numbers should parse: %+v", ev)
	}
}

func TestParse_MalformedJSON(t *testing.T) {
	if _, _, err := testParser().Parse([]byte(`{not json`)); err == nil {
		t.Fatal("expected an error")
	}
}
