package redis

import (
	"errors"
	"testing"
	"time"

	"shapefinder/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

func TestDecodeCandle(t *testing.T) {
	c := model.TFCandle{Token: "2885", Exchange: "NSE", TF: 60, TS: time.Unix(1700000000, 0).UTC(), High: 10250}
	tfc, ok := decodeCandle(goredis.XMessage{ID: "1-0", Values: map[string]interface{}{"data": string(c.JSON())}})
	if !ok {
		t.Fatal("valid entry rejected")
	}
	if tfc.Key() != "NSE:2885" || tfc.High != 10250 || !tfc.TS.Equal(c.TS) {
		t.Errorf("decoded %+v", tfc)
	}

	for name, vals := range map[string]map[string]interface{}{
		"missing": {},
		"garbage": {"data": "{not json"},
		"wrong":   {"data": 42},
	} {
		if _, ok := decodeCandle(goredis.XMessage{ID: "2-0", Values: vals}); ok {
			t.Errorf("%s entry accepted", name)
		}
	}
}

func TestReadGroupArgs(t *testing.T) {
	got := readGroupArgs([]string{"a", "b"})
	want := []string{"a", "b", ">", ">"}
	if len(got) != len(want) {
		t.Fatalf("readGroupArgs = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("readGroupArgs = %v, want %v", got, want)
		}
	}
}

func TestIsBusyGroup(t *testing.T) {
	if !isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")) {
		t.Error("BUSYGROUP not recognised")
	}
	if isBusyGroup(errors.New("ERR no such key")) || isBusyGroup(nil) {
		t.Error("other errors treated as BUSYGROUP")
	}
}

func TestCandleStream(t *testing.T) {
	if got := CandleStream(300, "NSE:2885"); got != "candle:300s:NSE:2885" {
		t.Errorf("CandleStream = %q", got)
	}
	c := model.TFCandle{TF: 300, Exchange: "NSE", Token: "2885"}
	if CandleStream(300, c.Key()) != c.StreamKey() {
		t.Error("CandleStream disagrees with TFCandle.StreamKey")
	}
}
