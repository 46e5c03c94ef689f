package wsaa

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransport(serverURL string) *Transport {
	tr := NewTransport(TransportOptions{Timeout: 5 * time.Second, MaxTries: 3})
	tr.loginURL = serverURL
	tr.wsdlURL = serverURL
	tr.retryInterval = time.Millisecond
	return tr
}

func loginResponseXML(token, sign string, generation, expiration time.Time) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<loginTicketResponse version="1.0">
  <header>
    <source>cn=wsaahomo,o=afip,c=ar,serialNumber=CUIT 33693450239</source>
    <destination>SERIALNUMBER=CUIT 20111111112, CN=empresa-test</destination>
    <uniqueId>2914721</uniqueId>
    <generationTime>%s</generationTime>
    <expirationTime>%s</expirationTime>
  </header>
  <credentials>
    <token>%s</token>
    <sign>%s</sign>
  </credentials>
</loginTicketResponse>`,
		generation.Format(time.RFC3339), expiration.Format(time.RFC3339), token, sign)
}

func soapLoginResponse(inner string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://www.w3.org/2003/05/soap-envelope">
  <soapenv:Body>
    <loginCmsResponse xmlns="http://wsaa.view.sua.dvadac.desein.afip.gov">
      <loginCmsReturn>%s</loginCmsReturn>
    </loginCmsResponse>
  </soapenv:Body>
</soapenv:Envelope>`, base64.StdEncoding.EncodeToString([]byte(inner)))
}

func soapFault12(value, subcode, reason string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope">
  <env:Body>
    <env:Fault>
      <env:Code>
        <env:Value>%s</env:Value>
        <env:Subcode>
          <env:Value>%s</env:Value>
        </env:Subcode>
      </env:Code>
      <env:Reason>
        <env:Text xml:lang="en">%s</env:Text>
      </env:Reason>
    </env:Fault>
  </env:Body>
</env:Envelope>`, value, subcode, reason)
}

func soapFault11(code, message string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
  <soapenv:Body>
    <soapenv:Fault>
      <faultcode>%s</faultcode>
      <faultstring>%s</faultstring>
    </soapenv:Fault>
  </soapenv:Body>
</soapenv:Envelope>`, code, message)
}

func TestTransport_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the decoded login ticket response", func(t *testing.T) {
		inner := loginResponseXML("ABC", "XYZ", time.Now(), time.Now().Add(12*time.Hour))

		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Contains(t, r.Header.Get("Content-Type"), "application/soap+xml")
			fmt.Fprint(w, soapLoginResponse(inner))
		}))
		defer server.Close()

		raw, err := newTestTransport(server.URL).Submit(ctx, Testing, "ZmFrZQ==")
		require.NoError(t, err)
		assert.Equal(t, inner, string(raw))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("soap 1.2 fault is terminal", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, soapFault12("env:Sender", "ns1:coe.alreadyAuthenticated", "El CEE ya posee un TA valido"))
		}))
		defer server.Close()

		_, err := newTestTransport(server.URL).Submit(ctx, Testing, "ZmFrZQ==")
		require.Error(t, err)

		var fault *RemoteFault
		require.ErrorAs(t, err, &fault)
		assert.Equal(t, "coe.alreadyAuthenticated", fault.Code)
		assert.Equal(t, "El CEE ya posee un TA valido", fault.Message)
		assert.True(t, fault.Permanent())
		assert.Equal(t, int32(1), calls.Load(), "faults must not be retried")
	})

	t.Run("soap 1.1 fault is terminal", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, soapFault11("ns1:cms.sign.invalid", "Firma inválida"))
		}))
		defer server.Close()

		_, err := newTestTransport(server.URL).Submit(ctx, Testing, "ZmFrZQ==")
		require.Error(t, err)

		var fault *RemoteFault
		require.ErrorAs(t, err, &fault)
		assert.Equal(t, "cms.sign.invalid", fault.Code)
		assert.False(t, fault.Permanent())
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("bare 500 retries up to the bound", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "gateway exploded", http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := newTestTransport(server.URL).Submit(ctx, Testing, "ZmFrZQ==")
		assert.ErrorIs(t, err, ErrNetwork)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("recovers when a retry succeeds", func(t *testing.T) {
		inner := loginResponseXML("ABC", "XYZ", time.Now(), time.Now().Add(12*time.Hour))

		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				http.Error(w, "not yet", http.StatusServiceUnavailable)
				return
			}
			fmt.Fprint(w, soapLoginResponse(inner))
		}))
		defer server.Close()

		raw, err := newTestTransport(server.URL).Submit(ctx, Testing, "ZmFrZQ==")
		require.NoError(t, err)
		assert.Equal(t, inner, string(raw))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("unexpected status is terminal", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "not here", http.StatusNotFound)
		}))
		defer server.Close()

		_, err := newTestTransport(server.URL).Submit(ctx, Testing, "ZmFrZQ==")
		assert.ErrorIs(t, err, ErrNetwork)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("malformed body is terminal", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			fmt.Fprint(w, "<html>this is not soap")
		}))
		defer server.Close()

		_, err := newTestTransport(server.URL).Submit(ctx, Testing, "ZmFrZQ==")
		assert.ErrorIs(t, err, ErrMalformedResponse)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("missing loginCmsReturn is terminal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<?xml version="1.0"?>
<soapenv:Envelope xmlns:soapenv="http://www.w3.org/2003/05/soap-envelope">
  <soapenv:Body><loginCmsResponse/></soapenv:Body>
</soapenv:Envelope>`)
		}))
		defer server.Close()

		_, err := newTestTransport(server.URL).Submit(ctx, Testing, "ZmFrZQ==")
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("invalid base64 payload is terminal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<?xml version="1.0"?>
<soapenv:Envelope xmlns:soapenv="http://www.w3.org/2003/05/soap-envelope">
  <soapenv:Body><loginCmsResponse><loginCmsReturn>!!not-base64!!</loginCmsReturn></loginCmsResponse></soapenv:Body>
</soapenv:Envelope>`)
		}))
		defer server.Close()

		_, err := newTestTransport(server.URL).Submit(ctx, Testing, "ZmFrZQ==")
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("unreachable gateway", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		_, err := newTestTransport(server.URL).Submit(ctx, Testing, "ZmFrZQ==")
		assert.ErrorIs(t, err, ErrNetwork)
	})

	t.Run("unknown environment", func(t *testing.T) {
		tr := NewTransport(TransportOptions{})
		_, err := tr.Submit(ctx, Environment("staging"), "ZmFrZQ==")
		assert.ErrorIs(t, err, ErrUnknownEnvironment)
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusInternalServerError)
		}))
		defer server.Close()

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := newTestTransport(server.URL).Submit(cancelled, Testing, "ZmFrZQ==")
		require.Error(t, err)
	})
}

func TestParseLoginResponse(t *testing.T) {
	generation := time.Now().Truncate(time.Second)
	expiration := generation.Add(12 * time.Hour)

	t.Run("extracts the ticket", func(t *testing.T) {
		data := []byte(loginResponseXML("ABC", "XYZ", generation, expiration))

		ticket, err := ParseLoginResponse(data, "wslsp", Testing)
		require.NoError(t, err)
		assert.Equal(t, "ABC", ticket.Token)
		assert.Equal(t, "XYZ", ticket.Sign)
		assert.Equal(t, "wslsp", ticket.Service)
		assert.Equal(t, Testing, ticket.Environment)
		assert.True(t, ticket.GenerationTime.Equal(generation))
		assert.True(t, ticket.ExpirationTime.Equal(expiration))
	})

	t.Run("accepts sub-second remote timestamps", func(t *testing.T) {
		data := []byte(fmt.Sprintf(`<loginTicketResponse>
  <header>
    <generationTime>%s</generationTime>
    <expirationTime>%s</expirationTime>
  </header>
  <credentials><token>ABC</token><sign>XYZ</sign></credentials>
</loginTicketResponse>`,
			generation.Format("2006-01-02T15:04:05.000-07:00"),
			expiration.Format("2006-01-02T15:04:05.000-07:00")))

		ticket, err := ParseLoginResponse(data, "wslsp", Testing)
		require.NoError(t, err)
		assert.True(t, ticket.ExpirationTime.Equal(expiration))
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := ParseLoginResponse([]byte("not xml at all <"), "wslsp", Testing)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("rejects missing credentials", func(t *testing.T) {
		data := []byte(`<loginTicketResponse><header/><credentials><token>ABC</token></credentials></loginTicketResponse>`)
		_, err := ParseLoginResponse(data, "wslsp", Testing)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("rejects bad timestamps", func(t *testing.T) {
		data := []byte(`<loginTicketResponse>
  <header><generationTime>ayer</generationTime><expirationTime>mañana</expirationTime></header>
  <credentials><token>ABC</token><sign>XYZ</sign></credentials>
</loginTicketResponse>`)
		_, err := ParseLoginResponse(data, "wslsp", Testing)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("rejects an already expired ticket", func(t *testing.T) {
		data := []byte(loginResponseXML("ABC", "XYZ", generation.Add(-24*time.Hour), generation.Add(-12*time.Hour)))
		_, err := ParseLoginResponse(data, "wslsp", Testing)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})
}

func TestTransport_Probe(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts a wsdl document", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			fmt.Fprint(w, `<?xml version="1.0"?><wsdl:definitions xmlns:wsdl="http://schemas.xmlsoap.org/wsdl/"></wsdl:definitions>`)
		}))
		defer server.Close()

		assert.NoError(t, newTestTransport(server.URL).Probe(ctx, Testing))
	})

	t.Run("rejects a non-wsdl body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "<html>maintenance page</html>")
		}))
		defer server.Close()

		assert.ErrorIs(t, newTestTransport(server.URL).Probe(ctx, Testing), ErrMalformedResponse)
	})

	t.Run("rejects an error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusBadGateway)
		}))
		defer server.Close()

		assert.ErrorIs(t, newTestTransport(server.URL).Probe(ctx, Testing), ErrNetwork)
	})

	t.Run("unknown environment", func(t *testing.T) {
		tr := NewTransport(TransportOptions{})
		assert.ErrorIs(t, tr.Probe(ctx, Environment("")), ErrUnknownEnvironment)
	})
}

func TestSoapFault_remoteFault(t *testing.T) {
	t.Run("prefers the subcode", func(t *testing.T) {
		f := &soapFault{CodeValue: "env:Sender", SubcodeValue: "ns1:xml.bad", Reason: "TRA ilegible"}
		fault := f.remoteFault()
		assert.Equal(t, "xml.bad", fault.Code)
		assert.Equal(t, "TRA ilegible", fault.Message)
	})

	t.Run("falls back to the 1.1 faultcode", func(t *testing.T) {
		f := &soapFault{FaultCode: "soapenv:Server", FaultString: "internal"}
		fault := f.remoteFault()
		assert.Equal(t, "Server", fault.Code)
		assert.Equal(t, "internal", fault.Message)
	})

	t.Run("falls back to the 1.2 code value", func(t *testing.T) {
		f := &soapFault{CodeValue: "env:Receiver", Reason: "unavailable"}
		fault := f.remoteFault()
		assert.Equal(t, "Receiver", fault.Code)
	})
}
