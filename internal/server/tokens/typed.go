package tokens

// Kind ties a Go type to a token purpose, so a Token[Refresh] cannot be
// handed to code expecting a Token[PasswordReset] without a visible conversion.
type Kind interface {
	Purpose() Purpose
}

type (
	Access        struct{}
	Refresh       struct{}
	EmailConfirm  struct{}
	PasswordReset struct{}
)

func (Access) Purpose() Purpose        { return PurposeAccess }
func (Refresh) Purpose() Purpose       { return PurposeRefresh }
func (EmailConfirm) Purpose() Purpose  { return PurposeEmailConfirm }
func (PasswordReset) Purpose() Purpose { return PurposePasswordReset }

// Token is a signed token string whose purpose is fixed by K.
type Token[K Kind] string

func (t Token[K]) String() string { return string(t) }

// IssueFor mints a token for K's purpose with the codec's TTL for it.
func IssueFor[K Kind](c *Codec, subject string) (Token[K], error) {
	var k K
	s, err := c.Issue(subject, k.Purpose(), c.TTL(k.Purpose()))
	if err != nil {
		return "", err
	}
	return Token[K](s), nil
}

// VerifyFor verifies t against K's purpose and returns its subject.
func VerifyFor[K Kind](c *Codec, t Token[K]) (string, error) {
	var k K
	return c.Verify(string(t), k.Purpose())
}
