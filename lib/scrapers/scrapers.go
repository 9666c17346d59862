package scrapers

// a scrape method mirrors an existing REST method: same name, same params,
// same result shape. only the transport differs, the data comes off a rendered
// page instead of the api endpoint.

// read scrapes are mostly stateless, each call is independent of the others
// and the output depends solely on the input.
// EXCEPT for the login state, that is an implied input for every call.
// a page is only ever as authenticated as the cookies installed into it.

// each read scrape generally has this structure:
// 1. make assertions on param validity.
// 2. resolve the subject (uid, group) through the plain api where needed.
// 3. navigate an authenticated page to the subject's url.
// 4. read markup out of the page, paging until there is enough.
// 5. shape the parsed markup the way the api method would have shaped it.

// mutating scrapes are inherently stateful, they click things and the server
// changes underneath. (thankfully there are few of these) they cannot trust a
// click to have landed, so they poll the page until the state reflects the
// mutation or the attempt budget runs out.
