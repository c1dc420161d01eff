package crowdfund

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/fortiblox/X1-Crowdfund/internal/types"
)

func testPubkey(b byte) types.Pubkey {
	var p types.Pubkey
	for i := range p {
		p[i] = b
	}
	return p
}

func TestCampaignRecordLayout(t *testing.T) {
	r := &CampaignRecord{
		Admin:         testPubkey(0xAA),
		Name:          "x",
		Description:   "yz",
		ImageLink:     "",
		AmountDonated: 0x0102030405060708,
	}

	data, err := r.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) != r.Size() {
		t.Fatalf("encoded length %d, Size() %d", len(data), r.Size())
	}

	want := append([]byte{}, r.Admin[:]...)
	want = append(want, 1, 0, 0, 0, 'x')
	want = append(want, 2, 0, 0, 0, 'y', 'z')
	want = append(want, 0, 0, 0, 0)
	want = binary.LittleEndian.AppendUint64(want, r.AmountDonated)
	if !bytes.Equal(data, want) {
		t.Errorf("layout mismatch:\n got %x\nwant %x", data, want)
	}
}

func TestCampaignRecordRoundTrip(t *testing.T) {
	r := CampaignRecord{
		Admin:         testPubkey(3),
		Name:          "Clean water",
		Description:   "Wells for three villages",
		ImageLink:     "https://example.org/well.png",
		AmountDonated: 42,
	}
	data, err := r.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := DecodeCampaignRecord(data)
	if err != nil {
		t.Fatalf("DecodeCampaignRecord: %v", err)
	}
	if *decoded != r {
		t.Errorf("round trip mismatch: got %+v, want %+v", *decoded, r)
	}

	w := WithdrawRequest{Amount: 300}
	wdata := binary.LittleEndian.AppendUint64(nil, w.Amount)
	wdecoded, err := DecodeWithdrawRequest(wdata)
	if err != nil {
		t.Fatalf("DecodeWithdrawRequest: %v", err)
	}
	if *wdecoded != w {
		t.Errorf("withdraw round trip: got %+v, want %+v", *wdecoded, w)
	}
}

func TestDecodeCampaignRecordMalformed(t *testing.T) {
	good, _ := (&CampaignRecord{Admin: testPubkey(1), Name: "n"}).Encode()

	hugeLen := append([]byte{}, good[:32]...)
	hugeLen = append(hugeLen, 0xff, 0xff, 0xff, 0xff)

	badUTF8 := append([]byte{}, good[:32]...)
	badUTF8 = append(badUTF8, 1, 0, 0, 0, 0xff, 0, 0, 0, 0, 0, 0, 0, 0)
	badUTF8 = binary.LittleEndian.AppendUint64(badUTF8, 0)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short admin", good[:10]},
		{"truncated counter", good[:len(good)-1]},
		{"trailing bytes", append(append([]byte{}, good...), 0)},
		{"string length past end", hugeLen},
		{"invalid utf8", badUTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeCampaignRecord(tt.data); !errors.Is(err, ErrMalformedData) {
				t.Errorf("got %v, want ErrMalformedData", err)
			}
		})
	}
}

func TestDecodeCampaignAccountAllowsPadding(t *testing.T) {
	r := &CampaignRecord{Admin: testPubkey(9), Name: "a", Description: "b", ImageLink: "c", AmountDonated: 7}
	data := make([]byte, 200)
	if err := writeCampaignRecord(data, r); err != nil {
		t.Fatalf("writeCampaignRecord: %v", err)
	}

	decoded, err := DecodeCampaignAccount(data)
	if err != nil {
		t.Fatalf("DecodeCampaignAccount: %v", err)
	}
	if *decoded != *r {
		t.Errorf("got %+v, want %+v", *decoded, *r)
	}

	// The padded region is not a valid instruction payload.
	if _, err := DecodeCampaignRecord(data); !errors.Is(err, ErrMalformedData) {
		t.Errorf("strict decode of padded data: got %v, want ErrMalformedData", err)
	}
}

func TestWriteCampaignRecord(t *testing.T) {
	r := &CampaignRecord{Admin: testPubkey(1), Name: "short"}

	data := bytes.Repeat([]byte{0xEE}, r.Size()+10)
	if err := writeCampaignRecord(data, r); err != nil {
		t.Fatalf("writeCampaignRecord: %v", err)
	}
	for i, b := range data[r.Size():] {
		if b != 0 {
			t.Fatalf("byte %d after record not cleared: %x", r.Size()+i, b)
		}
	}

	small := bytes.Repeat([]byte{0xEE}, r.Size()-1)
	err := writeCampaignRecord(small, r)
	if !errors.Is(err, ErrAccountDataTooSmall) {
		t.Fatalf("got %v, want ErrAccountDataTooSmall", err)
	}
	if !bytes.Equal(small, bytes.Repeat([]byte{0xEE}, r.Size()-1)) {
		t.Error("data must be untouched when the record does not fit")
	}
}

func TestDecodeWithdrawRequestMalformed(t *testing.T) {
	for _, data := range [][]byte{nil, {1, 2, 3}, make([]byte, 9)} {
		if _, err := DecodeWithdrawRequest(data); !errors.Is(err, ErrMalformedData) {
			t.Errorf("DecodeWithdrawRequest(%x): got %v, want ErrMalformedData", data, err)
		}
	}
}
