package cli

import "fmt"

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "login":
		return runLogin(args[1:])
	case "signup":
		return runSignup(args[1:])
	case "logout":
		return runLogout(args[1:])
	case "upload":
		return runUpload(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("thumbtrack: upload media and follow thumbnail generation live")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  thumbtrack signup --name <name> --email <email>")
	fmt.Println("  thumbtrack upload photo.jpg clip.mp4")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  login    sign in and store the session token")
	fmt.Println("  signup   create an account and store the session token")
	fmt.Println("  logout   forget the stored session token")
	fmt.Println("  upload   upload up to 5 files and watch their thumbnails")
	fmt.Println()
	fmt.Println("Dashboard Keys:")
	fmt.Println("  up/down  select a job")
	fmt.Println("  d        download the selected thumbnail")
	fmt.Println("  x        stop tracking the selected job")
	fmt.Println("  q        quit")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Settings come from config.yaml or env (API_BASE_URL, REALTIME_URL, LOG_LEVEL, LOG_FILE)")
	fmt.Println("  - Use --plain on upload for line output instead of the dashboard")
	fmt.Println("  - Use --out <dir> to choose where downloaded thumbnails go, --mirror to copy them to R2")
}
