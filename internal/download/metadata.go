package download

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/rescale-labs/ultratransfer/internal/apiclient"
	"github.com/rescale-labs/ultratransfer/internal/cipher"
)

// MetadataFetcher resolves item IDs into download plans via the host's
// batch metadata endpoint.
type MetadataFetcher struct {
	client *apiclient.Client
}

// NewMetadataFetcher builds a fetcher bound to client.
func NewMetadataFetcher(client *apiclient.Client) *MetadataFetcher {
	return &MetadataFetcher{client: client}
}

// Fetch resolves ids (with any required resource passwords, keyed by id)
// into their fragment plans, one FileInfo per resolved file.
func (f *MetadataFetcher) Fetch(ctx context.Context, ids []string, requiredPasswords map[string]string) ([]FileInfo, error) {
	dtos, err := f.client.UltraDownloadMetadata(ctx, ids, requiredPasswords)
	if err != nil {
		return nil, err
	}

	infos := make([]FileInfo, 0, len(dtos))
	for _, dto := range dtos {
		info, err := fileInfoFromDTO(dto)
		if err != nil {
			return nil, fmt.Errorf("file %s: %w", dto.ID, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func fileInfoFromDTO(dto apiclient.FileInfoDTO) (FileInfo, error) {
	method, err := parseEncryptionMethod(dto.EncryptionMethod)
	if err != nil {
		return FileInfo{}, err
	}

	key, err := decodeHexField("key", dto.Key)
	if err != nil {
		return FileInfo{}, err
	}
	iv, err := decodeHexField("iv", dto.IV)
	if err != nil {
		return FileInfo{}, err
	}

	fragments := make([]FragmentInfo, 0, len(dto.Fragments))
	for _, fr := range dto.Fragments {
		fragments = append(fragments, FragmentInfo{
			MessageID:    fr.MessageID,
			AttachmentID: fr.AttachmentID,
			Offset:       fr.Offset,
			Sequence:     fr.Sequence,
			Size:         fr.Size,
		})
	}

	return FileInfo{
		ID:               dto.ID,
		Name:             dto.Name,
		EncryptionMethod: method,
		Size:             dto.Size,
		Crc32:            dto.Crc32,
		Key:              key,
		IV:               iv,
		Password:         dto.Password,
		Fragments:        fragments,
	}, nil
}

func parseEncryptionMethod(s string) (cipher.Method, error) {
	switch s {
	case "", "plain", "PLAIN", "Plain":
		return cipher.Plain, nil
	case "aes_ctr", "AES_CTR", "aes-ctr", "AESCTR":
		return cipher.AESCTR, nil
	case "chacha20", "ChaCha20", "CHACHA20":
		return cipher.ChaCha20Method, nil
	default:
		return 0, &apiclient.ConfigurationError{Msg: "unknown encryption_method: " + s}
	}
}

func decodeHexField(name, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, &apiclient.ConfigurationError{Msg: fmt.Sprintf("malformed %s field: %v", name, err)}
	}
	return b, nil
}
