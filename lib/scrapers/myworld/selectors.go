package myworld

// css selectors and page scripts for the my.mail.ru frontend
const (
	historySelector  = "#history_root"
	historyStateAttr = "data-state"
	eventSelector    = "div.b-history-event"

	stateLoading  = "loading"
	stateUpdating = "updating"
	stateNoEvents = "noevents"

	accessDeniedSelector = "div.b-history__access-denied"
	blacklistSelector    = "div.b-history__blacklist"

	groupItemSelector = "div.groups-catalog div.groups__item"
	showMoreSelector  = "div.groups-catalog__groups-more span.ui-button-main"

	groupNameSelector    = "div.group__main div.group__name"
	joinButtonSelector   = "div.group__controls span.ui-button-main"
	joinedButtonSelector = "div.group__controls span.ui-button-main.ui-button_active"

	scrollToBottomScript = "window.scroll(0, document.body.scrollHeight)"
)
