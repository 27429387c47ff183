package remote

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"sort"
)

const (
	LayerTargetSize = 5 * 1024 * 1024  // 5MB target
	LayerMinSize    = 2 * 1024 * 1024  // 2MB minimum before combining
	LayerSoftMax    = 10 * 1024 * 1024 // 10MB soft maximum
)

type PrefixInfo struct {
	Hash  string `json:"hash"`
	Layer string `json:"layer"`
}

// Prefix returns the two hex chars of sha256(id) that place id in a layer.
func Prefix(id string) string {
	h := sha256.Sum256([]byte(id))
	return hex.EncodeToString(h[:1])
}

func GroupByPrefix(objects map[string][]byte) map[string]map[string][]byte {
	result := make(map[string]map[string][]byte)
	for id, data := range objects {
		prefix := Prefix(id)
		if result[prefix] == nil {
			result[prefix] = make(map[string][]byte)
		}
		result[prefix][id] = data
	}
	return result
}

func sortedIDs(objects map[string][]byte) []string {
	ids := make([]string, 0, len(objects))
	for id := range objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PrefixHash digests the ids and contents of one prefix group.
func PrefixHash(objects map[string][]byte) string {
	if len(objects) == 0 {
		return ""
	}

	h := sha256.New()
	for _, id := range sortedIDs(objects) {
		data := objects[id]
		_ = binary.Write(h, binary.BigEndian, uint32(len(id)))
		h.Write([]byte(id))
		_ = binary.Write(h, binary.BigEndian, uint64(len(data)))
		h.Write(data)
	}

	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

func PrefixSize(objects map[string][]byte) int64 {
	var total int64
	for id, data := range objects {
		total += int64(len(id) + len(data))
	}
	return total
}

// PackLayer packs objects into binary format: [id length 4B][id][length 8B][data]...
func PackLayer(objects map[string][]byte) []byte {
	var buf bytes.Buffer
	idLen := make([]byte, 4)
	dataLen := make([]byte, 8)

	for _, id := range sortedIDs(objects) {
		data := objects[id]

		binary.BigEndian.PutUint32(idLen, uint32(len(id)))
		buf.Write(idLen)
		buf.WriteString(id)

		binary.BigEndian.PutUint64(dataLen, uint64(len(data)))
		buf.Write(dataLen)
		buf.Write(data)
	}
	return buf.Bytes()
}

func UnpackLayer(data []byte) (map[string][]byte, error) {
	result := make(map[string][]byte)
	buf := bytes.NewReader(data)

	for buf.Len() > 0 {
		var idLen uint32
		if err := binary.Read(buf, binary.BigEndian, &idLen); err != nil {
			return nil, fmt.Errorf("read id length: %w", err)
		}
		if int64(idLen) > int64(buf.Len()) {
			return nil, fmt.Errorf("read id: %w", io.ErrUnexpectedEOF)
		}
		id := make([]byte, idLen)
		if _, err := io.ReadFull(buf, id); err != nil {
			return nil, fmt.Errorf("read id: %w", err)
		}

		var length uint64
		if err := binary.Read(buf, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("read length: %w", err)
		}
		if length > math.MaxInt32 || int64(length) > int64(buf.Len()) {
			return nil, fmt.Errorf("read data of %s: %w", id, io.ErrUnexpectedEOF)
		}

		objData := make([]byte, length)
		if _, err := io.ReadFull(buf, objData); err != nil {
			return nil, fmt.Errorf("read data of %s: %w", id, err)
		}

		result[string(id)] = objData
	}

	return result, nil
}

// BuildLayerPlan groups sorted prefixes into layers of roughly
// LayerTargetSize, letting small layers grow up to twice LayerSoftMax.
func BuildLayerPlan(prefixSizes map[string]int64) [][]string {
	prefixes := make([]string, 0, len(prefixSizes))
	for p := range prefixSizes {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	var layers [][]string
	var current []string
	var size int64

	for _, prefix := range prefixes {
		prefixSize := prefixSizes[prefix]

		if len(current) == 0 {
			current = append(current, prefix)
			size = prefixSize
			continue
		}

		newSize := size + prefixSize
		switch {
		case size < LayerTargetSize && newSize <= LayerSoftMax:
			current = append(current, prefix)
			size = newSize
		case size < LayerMinSize && newSize <= 2*LayerSoftMax:
			current = append(current, prefix)
			size = newSize
		default:
			layers = append(layers, current)
			current = []string{prefix}
			size = prefixSize
		}
	}

	if len(current) > 0 {
		layers = append(layers, current)
	}

	return layers
}

func CollectPrefixObjects(prefixes []string, byPrefix map[string]map[string][]byte) map[string][]byte {
	result := make(map[string][]byte)
	for _, prefix := range prefixes {
		for id, data := range byPrefix[prefix] {
			result[id] = data
		}
	}
	return result
}

func CalculatePrefixSizes(byPrefix map[string]map[string][]byte) map[string]int64 {
	result := make(map[string]int64)
	for prefix, objects := range byPrefix {
		result[prefix] = PrefixSize(objects)
	}
	return result
}
