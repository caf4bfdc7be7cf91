package cas

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// The handlers in this file are thin protocol glue: they parse the CAS
// query parameters, dispatch to Central, and hand the outcome to the
// Renderer. Session state (the single-sign-on cookie, the login and warn
// forms, the 'gateway' parameter) belongs to the surrounding application,
// not to the ticket engine.

func HttpSendTxt(w http.ResponseWriter, responseCode int, responseBody string) {
	w.Header().Add("Content-Type", "text/plain")
	w.Header().Add("Cache-Control", "no-cache, no-store, must revalidate")
	w.Header().Add("Pragma", "no-cache")
	w.Header().Add("Expires", "0")
	w.WriteHeader(responseCode)
	fmt.Fprintf(w, "%v", responseBody)
}

func HttpSendXml(w http.ResponseWriter, responseCode int, responseBody []byte) {
	w.Header().Add("Content-Type", "application/xml; charset=utf-8")
	w.Header().Add("Cache-Control", "no-cache, no-store, must revalidate")
	w.WriteHeader(responseCode)
	w.Write(responseBody)
}

// usernameForTicket resolves the wire-level username for a validated
// ticket, falling back to the raw user id when the user store cannot
// resolve it (for example after the account was archived).
func usernameForTicket(central *Central, t *Ticket) string {
	if user, err := central.GetUser(t.UserId); err == nil {
		return user.Username
	}
	return t.UserId
}

// renewRequested interprets the 'renew' query parameter. Anything but an
// absent or explicitly false value requests renew semantics.
func renewRequested(r *http.Request) bool {
	v := strings.ToLower(r.URL.Query().Get("renew"))
	return v != "" && v != "false" && v != "0"
}

// HttpHandlerValidate handles the protocol v1 '/validate' endpoint.
func HttpHandlerValidate(central *Central, renderer *Renderer, w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	ticket := r.URL.Query().Get("ticket")

	outcome := &ValidationOutcome{}
	t, err := central.ValidateServiceTicket(ticket, service, renewRequested(r))
	if err != nil {
		protoErr := AsError(err)
		if protoErr == nil {
			central.Log.Errorf("Configuration error during /validate: %v", err)
			HttpSendTxt(w, http.StatusInternalServerError, err.Error())
			return
		}
		outcome.Err = protoErr
	} else {
		outcome.Username = usernameForTicket(central, t)
	}
	HttpSendTxt(w, http.StatusOK, string(renderer.ValidationResponseV1(outcome)))
}

// HttpHandlerServiceValidate handles the protocol v2 '/serviceValidate'
// endpoint: ST only, no attribute release.
func HttpHandlerServiceValidate(central *Central, renderer *Renderer, w http.ResponseWriter, r *http.Request) {
	serviceValidateInternal(central, renderer, w, r, false, false)
}

// HttpHandlerP3ServiceValidate handles the protocol v3
// '/p3/serviceValidate' endpoint: ST only, with attribute release.
func HttpHandlerP3ServiceValidate(central *Central, renderer *Renderer, w http.ResponseWriter, r *http.Request) {
	serviceValidateInternal(central, renderer, w, r, false, true)
}

// HttpHandlerProxyValidate handles '/proxyValidate' (and its v3 twin):
// accepts ST or PT, and reports the proxy chain for a PT.
func HttpHandlerProxyValidate(central *Central, renderer *Renderer, w http.ResponseWriter, r *http.Request) {
	serviceValidateInternal(central, renderer, w, r, true, true)
}

func serviceValidateInternal(central *Central, renderer *Renderer, w http.ResponseWriter, r *http.Request, allowProxyTicket, includeAttributes bool) {
	service := r.URL.Query().Get("service")
	ticket := r.URL.Query().Get("ticket")
	pgtURL := r.URL.Query().Get("pgtUrl")

	outcome := &ValidationOutcome{}
	var t *Ticket
	var err error
	if allowProxyTicket {
		t, err = central.ValidateProxyTicket(ticket, service, renewRequested(r))
	} else {
		t, err = central.ValidateServiceTicket(ticket, service, renewRequested(r))
	}

	if err != nil {
		protoErr := AsError(err)
		if protoErr == nil {
			central.Log.Errorf("Configuration error during ticket validation: %v", err)
			HttpSendTxt(w, http.StatusInternalServerError, err.Error())
			return
		}
		outcome.Err = protoErr
	} else {
		user, errUser := central.GetUser(t.UserId)
		outcome.Username = t.UserId
		if errUser == nil {
			outcome.Username = user.Username
		}

		if pgtURL != "" {
			// A callback failure means the response simply carries no
			// proxy-granting ticket; the validation itself stands.
			if pgt, errPGT := central.CreateProxyGrantingTicket(pgtURL, t); errPGT == nil {
				outcome.PGTIOU = pgt.IOU
			}
		}

		if t.Kind == TicketPT {
			proxies, errChain := central.ProxyChain(t)
			if errChain != nil {
				outcome = &ValidationOutcome{Err: AsError(errChain)}
			} else {
				outcome.Proxies = proxies
			}
		}

		if includeAttributes && outcome.Err == nil && errUser == nil {
			attributes, errAttr := central.UserAttributes(user, service)
			if errAttr != nil {
				central.Log.Errorf("Configuration error during attribute release: %v", errAttr)
				HttpSendTxt(w, http.StatusInternalServerError, errAttr.Error())
				return
			}
			outcome.Attributes = attributes
		}
	}

	body, errXml := renderer.ValidationResponseXML(outcome)
	if errXml != nil {
		central.Log.Errorf("Response rendering failed: %v", errXml)
		HttpSendTxt(w, http.StatusInternalServerError, errXml.Error())
		return
	}
	HttpSendXml(w, http.StatusOK, body)
}

// HttpHandlerProxy handles the '/proxy' endpoint: exchanges a PGT for a new
// PT targeting targetService.
func HttpHandlerProxy(central *Central, renderer *Renderer, w http.ResponseWriter, r *http.Request) {
	pgtStr := r.URL.Query().Get("pgt")
	targetService := r.URL.Query().Get("targetService")

	var pt *Ticket
	pgt, err := central.ValidateProxyGrantingTicket(pgtStr, targetService)
	if err == nil {
		pt, err = central.CreateProxyTicket(targetService, pgt)
	}

	var failure *Error
	if err != nil {
		failure = AsError(err)
		if failure == nil {
			central.Log.Errorf("Configuration error during /proxy: %v", err)
			HttpSendTxt(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	body, errXml := renderer.ProxyResponseXML(pt, failure)
	if errXml != nil {
		central.Log.Errorf("Response rendering failed: %v", errXml)
		HttpSendTxt(w, http.StatusInternalServerError, errXml.Error())
		return
	}
	HttpSendXml(w, http.StatusOK, body)
}

// HttpHandlerLogin is a minimal credential-presentation endpoint: it
// authenticates a POSTed username/password against the user store, mints a
// primary ST and redirects back to the service. Deployments with their own
// login UI should treat this as a template.
func HttpHandlerLogin(central *Central, w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	username := r.FormValue("username")
	password := r.FormValue("password")

	if err := central.AuthenticateUser(username, password); err != nil {
		HttpSendTxt(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	user, err := central.GetUser(username)
	if err != nil {
		HttpSendTxt(w, http.StatusUnauthorized, err.Error())
		return
	}
	if service == "" {
		HttpSendTxt(w, http.StatusOK, "Login successful")
		return
	}
	st, err := central.CreateServiceTicket(user.UserId, service, true)
	if err != nil {
		HttpSendTxt(w, http.StatusInternalServerError, err.Error())
		return
	}
	redirect := service
	separator := "?"
	if strings.Contains(service, "?") {
		separator = "&"
	}
	redirect += separator + "ticket=" + url.QueryEscape(st.Ticket)
	http.Redirect(w, r, redirect, http.StatusSeeOther)
}

// HttpHandlerLogout invalidates every outstanding ticket of the identified
// user and pushes single-logout notices to opted-in services. The
// surrounding application owns the session cookie; it tells us which user
// is logging out.
func HttpHandlerLogout(central *Central, w http.ResponseWriter, r *http.Request) {
	userId := r.FormValue("userId")
	if userId == "" {
		HttpSendTxt(w, http.StatusBadRequest, "userId is required")
		return
	}
	if err := central.SingleLogout(userId); err != nil {
		if protoErr := AsError(err); protoErr == nil {
			central.Log.Errorf("Configuration error during /logout: %v", err)
		}
		HttpSendTxt(w, http.StatusInternalServerError, err.Error())
		return
	}
	HttpSendTxt(w, http.StatusOK, "User has been logged out")
}
