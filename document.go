package nyxdb

import "gopkg.in/mgo.v2/bson"

// document.go gives the change-stream core a handful of named lookups
// against an opaque wire document instead of a generic dynamic walker.
// The core only ever needs a few paths (_id, cursor.postBatchResumeToken,
// operationTime, cursor.id, error fields); each gets its own accessor.

// lookupRaw finds the value at a dotted path inside a bson.Raw document
// and returns it as a bson.Raw without decoding further. A missing key at
// any segment of the path returns ok=false, not an error: absence is a
// normal outcome the callers branch on.
func lookupRaw(doc bson.Raw, path ...string) (bson.Raw, bool) {
	cur := doc
	for i, key := range path {
		var m bson.RawD
		if err := cur.Unmarshal(&m); err != nil {
			return bson.Raw{}, false
		}
		found := false
		for _, elem := range m {
			if elem.Name == key {
				cur = elem.Value
				found = true
				break
			}
		}
		if !found {
			return bson.Raw{}, false
		}
		if i == len(path)-1 {
			return cur, true
		}
	}
	return cur, len(path) == 0
}

// lookupDocument returns the value at path as a document-typed bson.Raw.
// It reports ok=false both when the path is absent and when the value at
// the path exists but is not a document (kind 0x03) — the _id-presence
// check in change_stream.go relies on that distinction.
func lookupDocument(doc bson.Raw, path ...string) (bson.Raw, bool) {
	raw, ok := lookupRaw(doc, path...)
	if !ok || raw.Kind != 0x03 {
		return bson.Raw{}, false
	}
	return raw, true
}

// lookupInt64 returns an int32/int64-typed value at path as an int64.
func lookupInt64(doc bson.Raw, path ...string) (int64, bool) {
	raw, ok := lookupRaw(doc, path...)
	if !ok {
		return 0, false
	}
	switch raw.Kind {
	case 0x10: // int32
		var v int32
		if err := raw.Unmarshal(&v); err != nil {
			return 0, false
		}
		return int64(v), true
	case 0x12: // int64
		var v int64
		if err := raw.Unmarshal(&v); err != nil {
			return 0, false
		}
		return v, true
	default:
		return 0, false
	}
}

// lookupString returns a UTF-8 string-typed value at path.
func lookupString(doc bson.Raw, path ...string) (string, bool) {
	raw, ok := lookupRaw(doc, path...)
	if !ok || raw.Kind != 0x02 {
		return "", false
	}
	var v string
	if err := raw.Unmarshal(&v); err != nil {
		return "", false
	}
	return v, true
}

// lookupTimestamp returns a BSON Timestamp-typed (kind 0x11) value at path.
func lookupTimestamp(doc bson.Raw, path ...string) (bson.MongoTimestamp, bool) {
	raw, ok := lookupRaw(doc, path...)
	if !ok || raw.Kind != 0x11 {
		return 0, false
	}
	var v bson.MongoTimestamp
	if err := raw.Unmarshal(&v); err != nil {
		return 0, false
	}
	return v, true
}

// lookupArray returns the element values of an array-typed value at path.
func lookupArray(doc bson.Raw, path ...string) ([]bson.Raw, bool) {
	raw, ok := lookupRaw(doc, path...)
	if !ok || raw.Kind != 0x04 {
		return nil, false
	}
	var out []bson.Raw
	if err := raw.Unmarshal(&out); err != nil {
		return nil, false
	}
	return out, true
}
