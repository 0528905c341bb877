package pipeline

import "golang.org/x/crypto/bcrypt"

// BcryptCompare checks supplied against a bcrypt hash stored in a ConfItem's
// Passwd field (spec 4.D step 3, "apply crypt if auth record is flagged
// encrypted").
func BcryptCompare(supplied, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(supplied)) == nil
}

// HashPassword produces the stored form for a newly-configured auth/oper
// password.
func HashPassword(plain string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(out), err
}
