// Package match links roster records to CRM contacts using a tiered
// confidence strategy over in-memory indexes. Indexes are rebuilt from a
// fresh contact fetch for every reconciliation run and never persisted.
package match

import (
	"github.com/mesikahq/clinic-sync/internal/crm"
	"github.com/mesikahq/clinic-sync/internal/normalize"
)

type nameKey struct {
	last  string
	first string
}

// ContactIndex holds the lookup structures for one reconciliation run:
// normalized phone -> contact, and normalized (last, first) -> candidate
// list. Name collisions are expected and left for the matcher to resolve.
type ContactIndex struct {
	byPhone  map[string]crm.Contact
	byName   map[nameKey][]crm.Contact
	contacts []crm.Contact
}

// BuildIndex indexes the full contact list in one pass. Only contacts with a
// normalizable phone enter the phone index; on a duplicate phone key the
// first-seen contact wins (a documented policy, not an error; the CRM keeps
// household members under one number and the earliest record is the primary).
func BuildIndex(contacts []crm.Contact) *ContactIndex {
	idx := &ContactIndex{
		byPhone:  make(map[string]crm.Contact, len(contacts)),
		byName:   make(map[nameKey][]crm.Contact, len(contacts)),
		contacts: contacts,
	}
	for _, c := range contacts {
		if p := normalize.Phone(c.Phone); p != "" {
			if _, dup := idx.byPhone[p]; !dup {
				idx.byPhone[p] = c
			}
		}
		key := nameKey{last: normalize.Name(c.LastName), first: normalize.Name(c.FirstName)}
		if key.last != "" || key.first != "" {
			idx.byName[key] = append(idx.byName[key], c)
		}
	}
	return idx
}

// Size reports how many contacts the index was built over.
func (idx *ContactIndex) Size() int {
	return len(idx.contacts)
}
