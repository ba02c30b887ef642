package credentials

// Item is a typed request for one piece of credential material, such as
// "give me a username". Items are filled in place by Store.Resolve.
type Item interface {
	// Name describes the item in error messages.
	Name() string

	// accepts reports whether c can fill the item.
	accepts(c Credential) bool

	// fill copies the matching capability of c into the item.
	fill(c Credential) bool
}

// UsernameItem requests a username.
type UsernameItem struct {
	Value string
}

// Name implements Item.
func (i *UsernameItem) Name() string { return "username" }

func (i *UsernameItem) accepts(c Credential) bool {
	_, ok := c.(UsernameCredential)
	return ok
}

func (i *UsernameItem) fill(c Credential) bool {
	uc, ok := c.(UsernameCredential)
	if !ok {
		return false
	}
	i.Value = uc.Username()
	return true
}

// PasswordItem requests a password. The value is held as bytes so that it can
// be zeroed with Clear once the caller has used it.
type PasswordItem struct {
	value []byte
}

// Name implements Item.
func (i *PasswordItem) Name() string { return "password" }

// Value returns the filled password.
func (i *PasswordItem) Value() []byte { return i.value }

// Clear zeroes the filled password.
func (i *PasswordItem) Clear() {
	for j := range i.value {
		i.value[j] = 0
	}
	i.value = nil
}

func (i *PasswordItem) accepts(c Credential) bool {
	_, ok := c.(PasswordCredential)
	return ok
}

func (i *PasswordItem) fill(c Credential) bool {
	pc, ok := c.(PasswordCredential)
	if !ok {
		return false
	}
	i.Clear()
	i.value = []byte(pc.Password())
	return true
}
