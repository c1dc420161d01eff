package crowdfund

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Crowdfund/internal/types"
)

// CampaignRecord is the state stored in a campaign account.
//
// Layout (Borsh):
//   - admin: 32 bytes
//   - name, description, image_link: u32 little-endian length + UTF-8 bytes each
//   - amount_donated: u64 little-endian
type CampaignRecord struct {
	Admin         types.Pubkey `json:"admin"`
	Name          string       `json:"name"`
	Description   string       `json:"description"`
	ImageLink     string       `json:"imageLink"`
	AmountDonated uint64       `json:"amountDonated"`
}

// Size returns the encoded length of the record in bytes.
func (r *CampaignRecord) Size() int {
	return types.PubkeySize + 4 + len(r.Name) + 4 + len(r.Description) + 4 + len(r.ImageLink) + 8
}

// MarshalWithEncoder implements bin.BinaryMarshaler.
func (r CampaignRecord) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteBytes(r.Admin[:], false); err != nil {
		return err
	}
	for _, s := range []string{r.Name, r.Description, r.ImageLink} {
		if err := writeString(encoder, s); err != nil {
			return err
		}
	}
	return encoder.WriteUint64(r.AmountDonated, bin.LE)
}

// UnmarshalWithDecoder implements bin.BinaryUnmarshaler.
func (r *CampaignRecord) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	admin, err := decoder.ReadBytes(types.PubkeySize)
	if err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	copy(r.Admin[:], admin)

	if r.Name, err = readString(decoder); err != nil {
		return fmt.Errorf("name: %w", err)
	}
	if r.Description, err = readString(decoder); err != nil {
		return fmt.Errorf("description: %w", err)
	}
	if r.ImageLink, err = readString(decoder); err != nil {
		return fmt.Errorf("image_link: %w", err)
	}
	if r.AmountDonated, err = decoder.ReadUint64(bin.LE); err != nil {
		return fmt.Errorf("amount_donated: %w", err)
	}
	return nil
}

// Encode returns the Borsh encoding of the record.
func (r *CampaignRecord) Encode() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, r.Size()))
	if err := r.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeCampaignRecord decodes a record that must occupy data exactly, as in
// an instruction payload.
func DecodeCampaignRecord(data []byte) (*CampaignRecord, error) {
	decoder := bin.NewBorshDecoder(data)
	var r CampaignRecord
	if err := r.UnmarshalWithDecoder(decoder); err != nil {
		return nil, fmt.Errorf("%w: campaign record: %v", ErrMalformedData, err)
	}
	if decoder.Remaining() != 0 {
		return nil, fmt.Errorf("%w: campaign record: %d trailing bytes", ErrMalformedData, decoder.Remaining())
	}
	return &r, nil
}

// DecodeCampaignAccount decodes the record stored at the start of a campaign
// account's data region. Bytes after the record are allocation padding.
func DecodeCampaignAccount(data []byte) (*CampaignRecord, error) {
	var r CampaignRecord
	if err := r.UnmarshalWithDecoder(bin.NewBorshDecoder(data)); err != nil {
		return nil, fmt.Errorf("%w: campaign account: %v", ErrMalformedData, err)
	}
	return &r, nil
}

// writeCampaignRecord overwrites data with the encoding of r followed by zeros.
// data is left untouched if the record does not fit.
func writeCampaignRecord(data []byte, r *CampaignRecord) error {
	encoded, err := r.Encode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	if len(encoded) > len(data) {
		return fmt.Errorf("%w: record needs %d bytes, account has %d", ErrAccountDataTooSmall, len(encoded), len(data))
	}
	n := copy(data, encoded)
	clear(data[n:])
	return nil
}

// WithdrawRequest is the argument of a withdraw instruction.
type WithdrawRequest struct {
	Amount uint64 `json:"amount"`
}

// MarshalWithEncoder implements bin.BinaryMarshaler.
func (w WithdrawRequest) MarshalWithEncoder(encoder *bin.Encoder) error {
	return encoder.WriteUint64(w.Amount, bin.LE)
}

// UnmarshalWithDecoder implements bin.BinaryUnmarshaler.
func (w *WithdrawRequest) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	w.Amount, err = decoder.ReadUint64(bin.LE)
	return err
}

// DecodeWithdrawRequest decodes a withdraw payload, which must be exactly 8 bytes.
func DecodeWithdrawRequest(data []byte) (*WithdrawRequest, error) {
	decoder := bin.NewBorshDecoder(data)
	var w WithdrawRequest
	if err := w.UnmarshalWithDecoder(decoder); err != nil {
		return nil, fmt.Errorf("%w: withdraw request: %v", ErrMalformedData, err)
	}
	if decoder.Remaining() != 0 {
		return nil, fmt.Errorf("%w: withdraw request: %d trailing bytes", ErrMalformedData, decoder.Remaining())
	}
	return &w, nil
}

func writeString(encoder *bin.Encoder, s string) error {
	if err := encoder.WriteUint32(uint32(len(s)), bin.LE); err != nil {
		return err
	}
	return encoder.WriteBytes([]byte(s), false)
}

func readString(decoder *bin.Decoder) (string, error) {
	n, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(decoder.Remaining()) {
		return "", fmt.Errorf("string length %d exceeds %d remaining bytes", n, decoder.Remaining())
	}
	b, err := decoder.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("string is not valid UTF-8")
	}
	return string(b), nil
}
