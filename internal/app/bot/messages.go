package bot

const (
	msgShopGreeting = "Welcome to the app store. Open the attached store app to browse and download applications. " +
		"To submit your own application, send its bundle into this chat."

	msgShopHelp = "Open the store app above to browse the catalog, or send an app bundle to start a submission."

	msgSubmitHelp = "Send a new bundle to update your draft, or press submit in the helper app when you are done."

	msgGenesisHelp = "Commands: /join tester, /join publisher, /new tester-pool, /new reviewer-pool."

	msgPoolChatIntro = "This is a standing pool chat. Anyone here can send /join to enroll."

	msgJoinedTesters    = "You joined the tester pool."
	msgJoinedPublishers = "You joined the publisher pool."

	msgReleaseNotPublisher = "Only the assigned publisher can release this app."
	msgReleased            = "The app has been published to the store."
)
