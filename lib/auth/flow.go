package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"checkind-backend/lib/browser"
	"checkind-backend/lib/htmlutil"
)

// page-driving helpers shared by the browser-backed strategies. All of
// them go through the abstract session; nothing here knows which
// browser engine is underneath.

func currentUrl(ctx context.Context, sess browser.Session) (string, error) {
	return sess.EvaluateScript(ctx, "location.href")
}

func pageTitle(ctx context.Context, sess browser.Session) (string, error) {
	return sess.EvaluateScript(ctx, "document.title")
}

// waitForChallenge polls the page title until the bot-challenge
// interstitial clears or the timeout elapses.
func waitForChallenge(ctx context.Context, sess browser.Session, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		title, err := pageTitle(ctx, sess)
		if err == nil && title != "" && !htmlutil.IsChallengeTitle(title) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second * 2):
		}
	}
	return ErrBotChallenge
}

func fillField(ctx context.Context, sess browser.Session, selector, value string) error {
	js := fmt.Sprintf(`
		(function() {
			const el = document.querySelector(%q);
			if (!el) return "missing";
			const setter = Object.getOwnPropertyDescriptor(
				window.HTMLInputElement.prototype, "value").set;
			setter.call(el, %q);
			el.dispatchEvent(new Event("input", { bubbles: true }));
			el.dispatchEvent(new Event("change", { bubbles: true }));
			return "ok";
		})()
	`, selector, value)

	out, err := sess.EvaluateScript(ctx, js)
	if err != nil {
		return err
	}
	if out != "ok" {
		return fmt.Errorf("element %q not found", selector)
	}
	return nil
}

func clickElement(ctx context.Context, sess browser.Session, selector string) error {
	js := fmt.Sprintf(`
		(function() {
			const el = document.querySelector(%q);
			if (!el) return "missing";
			el.click();
			return "ok";
		})()
	`, selector)

	out, err := sess.EvaluateScript(ctx, js)
	if err != nil {
		return err
	}
	if out != "ok" {
		return fmt.Errorf("element %q not found", selector)
	}
	return nil
}

// clickByText clicks the first element of the given tag whose text
// contains any of the needles. Used for buttons that have no stable
// selector across site themes.
func clickByText(ctx context.Context, sess browser.Session, tag string, needles ...string) error {
	quoted := make([]string, len(needles))
	for i, n := range needles {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	js := fmt.Sprintf(`
		(function() {
			const needles = [%s];
			for (const el of document.querySelectorAll(%q)) {
				const text = el.textContent || "";
				if (needles.some(n => text.includes(n))) {
					el.click();
					return "ok";
				}
			}
			return "missing";
		})()
	`, strings.Join(quoted, ","), tag)

	out, err := sess.EvaluateScript(ctx, js)
	if err != nil {
		return err
	}
	if out != "ok" {
		return fmt.Errorf("no %s matching %v", tag, needles)
	}
	return nil
}

// waitForUrl polls until the predicate accepts the page URL.
func waitForUrl(ctx context.Context, sess browser.Session, timeout time.Duration, accept func(url string) bool) (string, error) {
	deadline := time.Now().Add(timeout)
	var last string
	for time.Now().Before(deadline) {
		url, err := currentUrl(ctx, sess)
		if err == nil {
			last = url
			if accept(url) {
				return url, nil
			}
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return last, fmt.Errorf("timed out waiting for navigation, stuck at %q", last)
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
