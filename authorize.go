package cas

import (
	"regexp"
	"strings"
	"sync"

	"github.com/IMQS/log"
	"github.com/wI2L/jsondiff"
)

/*
Authorization backends answer policy questions about services. A backend
implements whichever of the capability interfaces below it supports, and
registers on the chain. Backends are queried in registration order; the
chain accepts the first true/non-empty answer.

A backend that is asked a question it does not implement is a fatal
misconfiguration, never a silent "false". If you build a backend that
should deny everything, implement the capability and return false.
*/
type Authorizer interface {
	AuthorizerName() string
}

type ServiceAuthorizer interface {
	ServiceAllowed(service string) bool
}

type ProxyAuthorizer interface {
	ProxyAllowed(service string) bool
}

type ProxyCallbackAuthorizer interface {
	ProxyCallbackAllowed(service, callbackURL string) bool
}

type LogoutAuthorizer interface {
	LogoutAllowed(service string) bool
}

type LogoutURLProvider interface {
	// LogoutURL returns the single-logout destination for the service,
	// or "" to send the notice to the service URL itself.
	LogoutURL(service string) string
}

type CallbackProvider interface {
	// Callbacks returns the names of the attribute-producing functions
	// that run for this service.
	Callbacks(service string) []string
}

/*
AuthorizerChain queries its backends in order: short-circuit OR for the
boolean capabilities, first non-empty match for the lookups.

With no backends registered at all, the chain is deliberately permissive:
every service may validate tickets, and proxying is disabled. This
default-allow posture is a documented fallback for deployments without an
explicit service policy; it is not evidence of validation having happened.
*/
type AuthorizerChain struct {
	backends []Authorizer
}

func NewAuthorizerChain(backends ...Authorizer) *AuthorizerChain {
	return &AuthorizerChain{backends: backends}
}

func (x *AuthorizerChain) capabilityError(backend Authorizer, capability string) error {
	return NewError(ErrAuthorizerCapability, backend.AuthorizerName()+" does not implement "+capability)
}

func (x *AuthorizerChain) ServiceAllowed(service string) (bool, error) {
	if len(x.backends) == 0 {
		return true, nil
	}
	for _, b := range x.backends {
		sa, ok := b.(ServiceAuthorizer)
		if !ok {
			return false, x.capabilityError(b, "ServiceAllowed")
		}
		if sa.ServiceAllowed(service) {
			return true, nil
		}
	}
	return false, nil
}

func (x *AuthorizerChain) ProxyAllowed(service string) (bool, error) {
	if len(x.backends) == 0 {
		return false, nil
	}
	for _, b := range x.backends {
		pa, ok := b.(ProxyAuthorizer)
		if !ok {
			return false, x.capabilityError(b, "ProxyAllowed")
		}
		if pa.ProxyAllowed(service) {
			return true, nil
		}
	}
	return false, nil
}

func (x *AuthorizerChain) ProxyCallbackAllowed(service, callbackURL string) (bool, error) {
	if len(x.backends) == 0 {
		return false, nil
	}
	for _, b := range x.backends {
		pca, ok := b.(ProxyCallbackAuthorizer)
		if !ok {
			return false, x.capabilityError(b, "ProxyCallbackAllowed")
		}
		if pca.ProxyCallbackAllowed(service, callbackURL) {
			return true, nil
		}
	}
	return false, nil
}

func (x *AuthorizerChain) LogoutAllowed(service string) (bool, error) {
	if len(x.backends) == 0 {
		return false, nil
	}
	for _, b := range x.backends {
		la, ok := b.(LogoutAuthorizer)
		if !ok {
			return false, x.capabilityError(b, "LogoutAllowed")
		}
		if la.LogoutAllowed(service) {
			return true, nil
		}
	}
	return false, nil
}

func (x *AuthorizerChain) LogoutURL(service string) (string, error) {
	if len(x.backends) == 0 {
		return "", nil
	}
	for _, b := range x.backends {
		lu, ok := b.(LogoutURLProvider)
		if !ok {
			return "", x.capabilityError(b, "LogoutURL")
		}
		if u := lu.LogoutURL(service); u != "" {
			return u, nil
		}
	}
	return "", nil
}

func (x *AuthorizerChain) Callbacks(service string) ([]string, error) {
	if len(x.backends) == 0 {
		return nil, nil
	}
	for _, b := range x.backends {
		cp, ok := b.(CallbackProvider)
		if !ok {
			return nil, x.capabilityError(b, "Callbacks")
		}
		if names := cp.Callbacks(service); len(names) != 0 {
			return names, nil
		}
	}
	return nil, nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type servicePolicy struct {
	config  ConfigService
	pattern *regexp.Regexp
}

// ConfigAuthorizer is an authorization backend driven by the Services list
// of the JSON config. It implements every capability. Patterns support a
// single wildcard character '*', which matches any run of characters.
type ConfigAuthorizer struct {
	policies     []servicePolicy
	policiesLock sync.RWMutex
	log          *log.Logger
}

func NewConfigAuthorizer(services []ConfigService, logger *log.Logger) (*ConfigAuthorizer, error) {
	policies, err := compileServicePolicies(services)
	if err != nil {
		return nil, err
	}
	return &ConfigAuthorizer{policies: policies, log: logger}, nil
}

func compileServicePolicies(services []ConfigService) ([]servicePolicy, error) {
	policies := make([]servicePolicy, 0, len(services))
	for _, svc := range services {
		re, err := compileServicePattern(svc.Pattern)
		if err != nil {
			return nil, err
		}
		policies = append(policies, servicePolicy{config: svc, pattern: re})
	}
	return policies, nil
}

func compileServicePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, NewError(ErrServicePatternInvalid, "pattern may not be empty")
	}
	pieces := strings.Split(pattern, "*")
	for i, piece := range pieces {
		pieces[i] = regexp.QuoteMeta(piece)
	}
	re, err := regexp.Compile("^" + strings.Join(pieces, ".*") + "$")
	if err != nil {
		return nil, NewError(ErrServicePatternInvalid, pattern+": "+err.Error())
	}
	return re, nil
}

// Reload replaces the service policy with a new one, logging a JSON patch
// of what changed. Requests in flight finish against the policy they
// started with.
func (x *ConfigAuthorizer) Reload(services []ConfigService) error {
	policies, err := compileServicePolicies(services)
	if err != nil {
		return err
	}
	x.policiesLock.Lock()
	oldConfigs := x.configsLocked()
	x.policies = policies
	newConfigs := x.configsLocked()
	x.policiesLock.Unlock()
	if x.log != nil {
		if patch, e := jsondiff.Compare(oldConfigs, newConfigs); e == nil && len(patch) != 0 {
			x.log.Infof("Service policy reloaded, changes: %v", patch.String())
		} else {
			x.log.Infof("Service policy reloaded (%v services)", len(services))
		}
	}
	return nil
}

// Assume that policiesLock is held
func (x *ConfigAuthorizer) configsLocked() []ConfigService {
	configs := make([]ConfigService, 0, len(x.policies))
	for _, p := range x.policies {
		configs = append(configs, p.config)
	}
	return configs
}

func (x *ConfigAuthorizer) AuthorizerName() string {
	return "config"
}

func (x *ConfigAuthorizer) findPolicy(service string) *servicePolicy {
	x.policiesLock.RLock()
	defer x.policiesLock.RUnlock()
	for i := range x.policies {
		if x.policies[i].pattern.MatchString(service) {
			return &x.policies[i]
		}
	}
	return nil
}

func (x *ConfigAuthorizer) ServiceAllowed(service string) bool {
	return x.findPolicy(service) != nil
}

func (x *ConfigAuthorizer) ProxyAllowed(service string) bool {
	p := x.findPolicy(service)
	return p != nil && p.config.AllowProxy
}

func (x *ConfigAuthorizer) ProxyCallbackAllowed(service, callbackURL string) bool {
	p := x.findPolicy(service)
	if p == nil || !p.config.AllowProxy {
		return false
	}
	if len(p.config.AllowedCallbacks) == 0 {
		return true
	}
	for _, pattern := range p.config.AllowedCallbacks {
		re, err := compileServicePattern(pattern)
		if err == nil && re.MatchString(callbackURL) {
			return true
		}
	}
	return false
}

func (x *ConfigAuthorizer) LogoutAllowed(service string) bool {
	p := x.findPolicy(service)
	return p != nil && p.config.LogoutAllow
}

func (x *ConfigAuthorizer) LogoutURL(service string) string {
	p := x.findPolicy(service)
	if p == nil {
		return ""
	}
	return p.config.LogoutURL
}

func (x *ConfigAuthorizer) Callbacks(service string) []string {
	p := x.findPolicy(service)
	if p == nil {
		return nil
	}
	return p.config.Callbacks
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// AttributeCallback produces attributes released to a service on a
// successful validation. Callbacks are registered by name; the names a
// service policy lists must all be registered, or attribute resolution
// fails with a configuration error.
type AttributeCallback func(user *User, service string) map[string]string

var (
	attributeCallbacks     = map[string]AttributeCallback{}
	attributeCallbacksLock sync.RWMutex
)

func RegisterAttributeCallback(name string, cb AttributeCallback) {
	attributeCallbacksLock.Lock()
	attributeCallbacks[name] = cb
	attributeCallbacksLock.Unlock()
}

func lookupAttributeCallback(name string) (AttributeCallback, bool) {
	attributeCallbacksLock.RLock()
	cb, ok := attributeCallbacks[name]
	attributeCallbacksLock.RUnlock()
	return cb, ok
}

func init() {
	// The stock callback releases the user store's attribute map as-is.
	RegisterAttributeCallback("user_attributes", func(user *User, service string) map[string]string {
		return user.Attributes
	})
}
