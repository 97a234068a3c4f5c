package app

import (
	"context"

	"finboard/pkg/domain"
	"finboard/pkg/session"
)

const keyPreferences session.Key = "preferences"

// Preferences returns the saved preference set, or the defaults. The result
// is cached on sess until the next save or logout.
func (a *App) Preferences(ctx context.Context, sess *session.Session) (domain.PreferenceSet, error) {
	id, err := sess.Require()
	if err != nil {
		return domain.PreferenceSet{}, err
	}
	if cached, ok := session.Value[domain.PreferenceSet](sess, keyPreferences); ok {
		return cached, nil
	}
	prefs, err := a.store.GetPreferences(ctx, id)
	if err != nil {
		return domain.PreferenceSet{}, err
	}
	sess.Put(keyPreferences, prefs)
	return prefs, nil
}

// SavePreferences builds a full preference set from form, where omitted fields
// take their defaults, and replaces the stored one.
func (a *App) SavePreferences(ctx context.Context, sess *session.Session, form domain.PreferenceForm) (domain.PreferenceSet, error) {
	id, err := sess.Require()
	if err != nil {
		return domain.PreferenceSet{}, err
	}
	prefs, err := form.Build()
	if err != nil {
		return domain.PreferenceSet{}, err
	}
	sess.Delete(keyPreferences)
	if err := a.store.SavePreferences(ctx, id, prefs); err != nil {
		return domain.PreferenceSet{}, err
	}
	return a.Preferences(ctx, sess)
}
