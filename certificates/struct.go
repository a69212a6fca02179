/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package certificates

import (
	"crypto/tls"
	"io"

	tlsaut "github.com/nabbar/tlsrp/certificates/auth"
	tlscas "github.com/nabbar/tlsrp/certificates/ca"
	tlscrt "github.com/nabbar/tlsrp/certificates/certs"
	tlscpr "github.com/nabbar/tlsrp/certificates/cipher"
	tlscrv "github.com/nabbar/tlsrp/certificates/curves"
	tlsvrs "github.com/nabbar/tlsrp/certificates/tlsversion"
)

// config is the sole concrete implementation of TLSConfig. Every accessor
// used across cert.go, rootca.go, curves.go and authClient.go targets these
// fields.
type config struct {
	rand io.Reader

	cert       []tlscrt.Cert
	cipherList []tlscpr.Cipher
	curveList  []tlscrv.Curves

	caRoot []tlscas.Cert

	clientAuth tlsaut.ClientAuth
	clientCA   []tlscas.Cert

	tlsMinVersion tlsvrs.Version
	tlsMaxVersion tlsvrs.Version

	dynSizingDisabled     bool
	ticketSessionDisabled bool
}

func (o *config) RegisterRand(rand io.Reader) {
	o.rand = rand
}

func (o *config) SetVersionMin(v tlsvrs.Version) {
	o.tlsMinVersion = v
}

func (o *config) GetVersionMin() tlsvrs.Version {
	return o.tlsMinVersion
}

func (o *config) SetVersionMax(v tlsvrs.Version) {
	o.tlsMaxVersion = v
}

func (o *config) GetVersionMax() tlsvrs.Version {
	return o.tlsMaxVersion
}

func (o *config) SetCipherList(c []tlscpr.Cipher) {
	o.cipherList = c
}

func (o *config) AddCiphers(c ...tlscpr.Cipher) {
	o.cipherList = append(o.cipherList, c...)
}

func (o *config) GetCiphers() []tlscpr.Cipher {
	return append(make([]tlscpr.Cipher, 0, len(o.cipherList)), o.cipherList...)
}

func (o *config) SetDynamicSizingDisabled(flag bool) {
	o.dynSizingDisabled = flag
}

func (o *config) SetSessionTicketDisabled(flag bool) {
	o.ticketSessionDisabled = flag
}

func (o *config) Clone() TLSConfig {
	return &config{
		rand:                  o.rand,
		cert:                  append(make([]tlscrt.Cert, 0, len(o.cert)), o.cert...),
		cipherList:            append(make([]tlscpr.Cipher, 0, len(o.cipherList)), o.cipherList...),
		curveList:             append(make([]tlscrv.Curves, 0, len(o.curveList)), o.curveList...),
		caRoot:                append(make([]tlscas.Cert, 0, len(o.caRoot)), o.caRoot...),
		clientAuth:            o.clientAuth,
		clientCA:              append(make([]tlscas.Cert, 0, len(o.clientCA)), o.clientCA...),
		tlsMinVersion:         o.tlsMinVersion,
		tlsMaxVersion:         o.tlsMaxVersion,
		dynSizingDisabled:     o.dynSizingDisabled,
		ticketSessionDisabled: o.ticketSessionDisabled,
	}
}

// TlsConfig builds the runtime *tls.Config from the current settings; every
// stored certificate pair goes into its Certificates list, from which
// crypto/tls picks one per handshake.
func (o *config) TlsConfig(serverName string) *tls.Config {
	/* #nosec */
	cnf := &tls.Config{
		Rand:                        o.rand,
		MinVersion:                  o.tlsMinVersion.TLS(),
		MaxVersion:                  o.tlsMaxVersion.TLS(),
		SessionTicketsDisabled:      o.ticketSessionDisabled,
		DynamicRecordSizingDisabled: o.dynSizingDisabled,
		ClientAuth:                  o.clientAuth.TLS(),
	}

	if serverName != "" {
		cnf.ServerName = serverName
	}

	if len(o.cipherList) > 0 {
		cnf.PreferServerCipherSuites = true
		cnf.CipherSuites = make([]uint16, 0, len(o.cipherList))
		for _, c := range o.cipherList {
			cnf.CipherSuites = append(cnf.CipherSuites, c.TLS())
		}
	}

	if len(o.curveList) > 0 {
		cnf.CurvePreferences = make([]tls.CurveID, 0, len(o.curveList))
		for _, c := range o.curveList {
			cnf.CurvePreferences = append(cnf.CurvePreferences, c.TLS())
		}
	}

	if pool := o.GetRootCAPool(); pool != nil {
		cnf.RootCAs = pool
	}

	if len(o.cert) > 0 {
		cnf.Certificates = o.GetCertificatePair()
	}

	if o.clientAuth != tlsaut.NoClientCert {
		if pool := o.GetClientCAPool(); pool != nil {
			cnf.ClientCAs = pool
		}
	}

	return cnf
}

func (o *config) TLS(serverName string) *tls.Config {
	return o.TlsConfig(serverName)
}

func (o *config) Config() *Config {
	return &Config{
		CurveList:            o.GetCurves(),
		CipherList:           o.GetCiphers(),
		RootCA:               o.GetRootCA(),
		ClientCA:             o.GetClientCA(),
		Certs:                certsOf(o.cert),
		VersionMin:           o.tlsMinVersion,
		VersionMax:           o.tlsMaxVersion,
		AuthClient:           o.clientAuth,
		DynamicSizingDisable: o.dynSizingDisabled,
		SessionTicketDisable: o.ticketSessionDisabled,
	}
}

func certsOf(c []tlscrt.Cert) []tlscrt.Certif {
	res := make([]tlscrt.Certif, 0, len(c))
	for _, i := range c {
		res = append(res, i.Model())
	}
	return res
}
