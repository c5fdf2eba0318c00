package store

import "sort"

// Entry is one key/value pair read from the store.
type Entry struct {
	Key   string `json:"key" bson:"_id"`
	Value []byte `json:"value" bson:"value"`
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}
