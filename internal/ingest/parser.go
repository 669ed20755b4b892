// Package ingest is the listener boundary: raw platform payloads come
// in, normalized gift events go into storage and on to the engine.
package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lunargate/giftwatch/internal/db"
)

// Commands carried by raw platform envelopes that describe a donation.
const (
	CmdSendGift  = "SEND_GIFT"
	CmdComboSend = "COMBO_SEND"
	CmdGuardBuy  = "GUARD_BUY"
)

var supportedCmds = map[string]bool{
	CmdSendGift:  true,
	CmdComboSend: true,
	CmdGuardBuy:  true,
}

var guardLevelNames = map[int64]string{
	1: "总督",
	2: "提督",
	3: "舰长",
}

func guardName(level int64) string {
	if name, ok := guardLevelNames[level]; ok {
		return name
	}
	return "大航海"
}

// Parser normalizes raw platform envelopes into GiftEvents. Payload
// shapes vary between event dispatchers: the interesting fields may sit
// at data or one level deeper at data.data, and several fields travel
// under more than one name.
type Parser struct {
	roomID int64
	now    func() time.Time
}

// NewParser creates a parser that stamps events with the given room id.
func NewParser(roomID int64) *Parser {
	return &Parser{roomID: roomID, now: time.Now}
}

// Parse decodes a raw envelope. It returns the normalized event and the
// command that produced it. Non-gift commands and gift payloads missing
// a donor name or gift name yield (nil, cmd, nil); only malformed JSON
// is an error.
func (p *Parser) Parse(raw []byte) (*db.GiftEvent, string, error) {
	var envelope map[string]any
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, "", fmt.Errorf("decode envelope: %w", err)
	}

	envelope = unwrapDispatch(envelope)

	cmd := stringField(envelope, "cmd", "command", "type")
	if !supportedCmds[cmd] {
		return nil, cmd, nil
	}

	outer, _ := envelope["data"].(map[string]any)
	data := outer
	if inner, ok := outer["data"].(map[string]any); ok {
		data = inner
	}
	if data == nil {
		return nil, cmd, nil
	}

	var ev *db.GiftEvent
	if cmd == CmdGuardBuy {
		ev = p.parseGuard(envelope, data, raw)
	} else {
		ev = p.parseGift(envelope, outer, data, raw)
	}
	return ev, cmd, nil
}

// unwrapDispatch handles event-bus wrappers of the form
// {"name": "<cmd>", "data": [<event>]} by lifting the first element and
// carrying the name over as cmd when the inner event lacks one.
func unwrapDispatch(envelope map[string]any) map[string]any {
	name, hasName := envelope["name"].(string)
	list, hasList := envelope["data"].([]any)
	if !hasName || !hasList || len(list) == 0 {
		return envelope
	}
	inner, ok := list[0].(map[string]any)
	if !ok {
		return envelope
	}
	if _, hasCmd := inner["cmd"]; !hasCmd && name != "" {
		inner["cmd"] = name
	}
	return inner
}

func (p *Parser) parseGift(envelope, outer, data map[string]any, raw []byte) *db.GiftEvent {
	uname := strings.TrimSpace(stringField(data, "uname", "name"))

	gift, _ := data["gift"].(map[string]any)
	giftName := strings.TrimSpace(stringField(data, "giftName", "gift_name"))
	if giftName == "" && gift != nil {
		giftName = strings.TrimSpace(stringField(gift, "giftName", "gift_name"))
	}
	giftID := intField(data, "giftId", "gift_id")
	if giftID == 0 && gift != nil {
		giftID = intField(gift, "giftId", "gift_id")
	}

	if uname == "" || giftName == "" {
		return nil
	}

	num := intField(data, "num", "total_num", "combo_num")
	if num <= 0 {
		num = 1
	}

	price := intField(data, "total_coin", "totalCoin", "price", "giftPrice", "combo_total_coin")

	ts := intField(data, "timestamp")
	if ts == 0 {
		ts = intField(envelope, "timestamp")
	}
	if ts == 0 {
		ts = intField(outer, "timestamp")
	}
	if ts == 0 {
		ts = p.now().Unix()
	}

	return &db.GiftEvent{
		Ts:         ts,
		RoomID:     p.roomID,
		DonorUID:   uidPtr(intField(data, "uid")),
		DonorName:  uname,
		GiftID:     giftID,
		GiftName:   giftName,
		Quantity:   int(num),
		TotalPrice: price,
		RawPayload: json.RawMessage(raw),
	}
}

func (p *Parser) parseGuard(envelope, data map[string]any, raw []byte) *db.GiftEvent {
	uname := strings.TrimSpace(stringField(data, "username", "uname"))

	level := intField(data, "guard_level")
	if level == 0 {
		level = intField(data, "gift_id")
	}

	name := strings.TrimSpace(stringField(data, "gift_name"))
	if name == "" {
		name = guardName(level)
	}

	if uname == "" {
		return nil
	}

	num := intField(data, "num")
	if num <= 0 {
		num = 1
	}

	ts := intField(data, "start_time")
	if ts == 0 {
		ts = intField(data, "timestamp")
	}
	if ts == 0 {
		ts = intField(envelope, "timestamp")
	}
	if ts == 0 {
		ts = p.now().Unix()
	}

	return &db.GiftEvent{
		Ts:         ts,
		RoomID:     p.roomID,
		DonorUID:   uidPtr(intField(data, "uid")),
		DonorName:  uname,
		GiftID:     level,
		GiftName:   name,
		Quantity:   int(num),
		TotalPrice: intField(data, "price") * num,
		RawPayload: json.RawMessage(raw),
	}
}

func uidPtr(uid int64) *int64 {
	if uid == 0 {
		return nil
	}
	return &uid
}

// stringField returns the first non-empty string among the aliases.
func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// intField returns the first alias that parses as an integer. JSON
// numbers arrive as float64; some payloads carry numbers as strings.
func intField(m map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			if v != 0 {
				return int64(v)
			}
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n != 0 {
				return n
			}
		}
	}
	return 0
}
