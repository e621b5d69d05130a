package entities

import "sort"

// AccessControlList is the per-session set of identities allowed to vote or
// delegate. The creator is always a member.
type AccessControlList struct {
	Creator Identity
	allowed map[Identity]struct{}
}

func NewAccessControlList(creator Identity, members ...Identity) AccessControlList {
	acl := AccessControlList{
		Creator: creator,
		allowed: make(map[Identity]struct{}, len(members)+1),
	}
	acl.allowed[creator] = struct{}{}
	for _, member := range members {
		acl.allowed[member] = struct{}{}
	}
	return acl
}

func (acl AccessControlList) IsAllowed(id Identity) bool {
	_, ok := acl.allowed[id]
	return ok
}

// Add reports whether id was newly added.
func (acl *AccessControlList) Add(id Identity) bool {
	if acl.allowed == nil {
		acl.allowed = make(map[Identity]struct{})
	}
	if _, ok := acl.allowed[id]; ok {
		return false
	}
	acl.allowed[id] = struct{}{}
	return true
}

// Remove reports whether id was a member. The creator is never removed.
func (acl *AccessControlList) Remove(id Identity) bool {
	if id == acl.Creator {
		return false
	}
	if _, ok := acl.allowed[id]; !ok {
		return false
	}
	delete(acl.allowed, id)
	return true
}

func (acl AccessControlList) Len() int {
	return len(acl.allowed)
}

// Members returns the allowed identities in lexical order.
func (acl AccessControlList) Members() []Identity {
	items := make([]Identity, 0, len(acl.allowed))
	for id := range acl.allowed {
		items = append(items, id)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}

func (acl AccessControlList) Clone() AccessControlList {
	return NewAccessControlList(acl.Creator, acl.Members()...)
}
