package credentials

import (
	"time"
)

// Info summarizes the loaded certificate for display and health checks.
type Info struct {
	Subject       string    `json:"subject"`
	Issuer        string    `json:"issuer"`
	SerialNumber  string    `json:"serial_number"`
	NotBefore     time.Time `json:"not_before"`
	NotAfter      time.Time `json:"not_after"`
	DaysRemaining int       `json:"days_remaining"`
	Fingerprint   string    `json:"fingerprint"`
}

// Info reports the certificate details as of now. DaysRemaining is negative
// once the certificate has expired.
func (s *Store) Info(now time.Time) Info {
	return Info{
		Subject:       s.cert.Subject.String(),
		Issuer:        s.cert.Issuer.String(),
		SerialNumber:  s.cert.SerialNumber.Text(16),
		NotBefore:     s.cert.NotBefore,
		NotAfter:      s.cert.NotAfter,
		DaysRemaining: int(s.cert.NotAfter.Sub(now).Hours() / 24),
		Fingerprint:   s.Fingerprint(),
	}
}
