package wsaa

import "fmt"

// Environment selects which WSAA deployment requests go to. AFIP runs two:
// homologación (testing) and producción. Each has a fixed LoginCms endpoint;
// there is no discovery.
type Environment string

const (
	// Testing is AFIP's homologación environment.
	Testing Environment = "testing"

	// Production is AFIP's production environment.
	Production Environment = "production"
)

const (
	testingLoginURL    = "https://wsaahomo.afip.gov.ar/ws/services/LoginCms"
	productionLoginURL = "https://wsaa.afip.gov.ar/ws/services/LoginCms"

	// Distinguished names of the WSAA service certificates, used as the
	// destination header of every login ticket request.
	testingDestinationDN    = "cn=wsaahomo,o=afip,c=ar,serialNumber=CUIT 33693450239"
	productionDestinationDN = "cn=wsaa,o=afip,c=ar,serialNumber=CUIT 33693450239"
)

// ParseEnvironment maps a configuration string to an Environment.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case Testing:
		return Testing, nil
	case Production:
		return Production, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEnvironment, s)
	}
}

// Valid reports whether e is one of the two known environments.
func (e Environment) Valid() bool {
	return e == Testing || e == Production
}

func (e Environment) String() string {
	return string(e)
}

// LoginURL returns the environment's LoginCms endpoint.
func (e Environment) LoginURL() string {
	if e == Production {
		return productionLoginURL
	}
	return testingLoginURL
}

// WSDLURL returns the URL of the endpoint's service description, used by
// connectivity probes.
func (e Environment) WSDLURL() string {
	return e.LoginURL() + "?wsdl"
}

// DestinationDN returns the distinguished name of the environment's WSAA
// certificate.
func (e Environment) DestinationDN() string {
	if e == Production {
		return productionDestinationDN
	}
	return testingDestinationDN
}
