package petals

import (
	"errors"
	"testing"
)

func TestNewUserIDValidation(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "plain id", raw: "user-1", want: "user-1"},
		{name: "trims whitespace", raw: "  user-1  ", want: "user-1"},
		{name: "empty rejected", raw: "", wantErr: ErrInvalidUserID},
		{name: "whitespace rejected", raw: "   ", wantErr: ErrInvalidUserID},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			userID, err := NewUserID(testCase.raw)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf(errorFormatWant, testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if userID.String() != testCase.want {
				test.Fatalf("expected %q, got %q", testCase.want, userID.String())
			}
		})
	}
}

func TestNewMetadataJSONValidation(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "empty defaults to object", raw: "", want: "{}"},
		{name: "object passes", raw: `{"quest":"daily"}`, want: `{"quest":"daily"}`},
		{name: "garbage rejected", raw: "{not json", wantErr: ErrInvalidMetadataJSON},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			metadata, err := NewMetadataJSON(testCase.raw)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf(errorFormatWant, testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if metadata.String() != testCase.want {
				test.Fatalf("expected %q, got %q", testCase.want, metadata.String())
			}
		})
	}
}

func TestParseEntryKind(test *testing.T) {
	test.Parallel()
	for _, kind := range []EntryKind{EntryEarn, EntrySpend, EntryAdjust} {
		parsed, err := ParseEntryKind(kind.String())
		if err != nil {
			test.Fatalf("parse %q: %v", kind, err)
		}
		if parsed != kind {
			test.Fatalf("expected %q, got %q", kind, parsed)
		}
	}
	if _, err := ParseEntryKind("refund"); !errors.Is(err, ErrInvalidEntryKind) {
		test.Fatalf(errorFormatWant, ErrInvalidEntryKind, err)
	}
}

func TestEntryKindSigned(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		kind     EntryKind
		amount   int64
		negative bool
		want     int64
	}{
		{name: "earn adds", kind: EntryEarn, amount: 50, want: 50},
		{name: "spend subtracts", kind: EntrySpend, amount: 30, want: -30},
		{name: "positive adjust adds", kind: EntryAdjust, amount: 10, want: 10},
		{name: "negative adjust subtracts", kind: EntryAdjust, amount: 10, negative: true, want: -10},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := testCase.kind.Signed(testCase.amount, testCase.negative); got != testCase.want {
				test.Fatalf("expected %d, got %d", testCase.want, got)
			}
		})
	}
}

func TestNewDeltaValidation(test *testing.T) {
	test.Parallel()
	if _, err := NewDelta(0); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf(errorFormatWant, ErrInvalidAmount, err)
	}
	delta, err := NewDelta(-7)
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if delta.Int64() != -7 || delta.Magnitude() != 7 {
		test.Fatalf("unexpected delta %d magnitude %d", delta.Int64(), delta.Magnitude())
	}
}

func TestNewCollectKeyValidation(test *testing.T) {
	test.Parallel()
	if _, err := NewCollectKey("  "); !errors.Is(err, ErrInvalidCollectKey) {
		test.Fatalf(errorFormatWant, ErrInvalidCollectKey, err)
	}
	key, err := NewCollectKey(" daily:2024-01-01:userA ")
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if key.String() != "daily:2024-01-01:userA" {
		test.Fatalf("expected trimmed key, got %q", key.String())
	}
}
