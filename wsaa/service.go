package wsaa

import (
	"regexp"
	"sort"
)

// Service describes an AFIP business web service that WSAA issues tickets
// for. The endpoints are those of the business service itself; this module
// never calls them, they are exposed for the consumers that do.
type Service struct {
	ID            string
	Name          string
	TestingURL    string
	ProductionURL string
}

// Endpoint returns the business endpoint for env.
func (s Service) Endpoint(env Environment) string {
	if env == Production {
		return s.ProductionURL
	}
	return s.TestingURL
}

var serviceCatalog = map[string]Service{
	"wslsp": {
		ID:            "wslsp",
		Name:          "Liquidación Sector Pecuario",
		TestingURL:    "https://wswhomo.afip.gov.ar/wslsp/LspService",
		ProductionURL: "https://serviciosjava.afip.gob.ar/wslsp/LspService",
	},
	"mtxca": {
		ID:            "mtxca",
		Name:          "Factura Electrónica",
		TestingURL:    "https://wswhomo.afip.gov.ar/wsmtxca/services/MTXCAService",
		ProductionURL: "https://serviciosjava.afip.gob.ar/wsmtxca/services/MTXCAService",
	},
	"remcarneservice": {
		ID:            "remcarneservice",
		Name:          "Remitos Electrónicos Cárnicos",
		TestingURL:    "https://wswhomo.afip.gov.ar/remcarne/RemCarneService",
		ProductionURL: "https://serviciosjava.afip.gob.ar/remcarne/RemCarneService",
	},
}

// LookupService returns the catalog entry for id.
func LookupService(id string) (Service, bool) {
	s, ok := serviceCatalog[id]
	return s, ok
}

// ServiceIDs returns the ids of every cataloged service, sorted.
func ServiceIDs() []string {
	ids := make([]string, 0, len(serviceCatalog))
	for id := range serviceCatalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// serviceIDPattern is the service element pattern from the TRA schema.
var serviceIDPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{2,31}$`)

// ValidServiceID reports whether id is acceptable as the service element of a
// login ticket request. Ids outside the catalog are fine as long as they
// match; AFIP runs far more services than the three cataloged here.
func ValidServiceID(id string) bool {
	return serviceIDPattern.MatchString(id)
}
